package client

import (
	"errors"
	"net/http"
	"testing"
)

// fakeSession counts requests and Close calls.
type fakeSession struct {
	closed   int
	requests int
	client   *http.Client
}

func (s *fakeSession) Do(req *http.Request) (*http.Response, error) {
	s.requests++
	if s.client != nil {
		return s.client.Do(req)
	}
	return http.DefaultClient.Do(req)
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

func TestOpenClose_ExplicitSessionNeverClosed(t *testing.T) {
	explicit := &fakeSession{}
	cfg := DefaultConfig("https://api.example.com", nil)
	cfg.Session = explicit
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.bound != explicit || c.ownsBound {
		t.Error("Open() should bind the explicit session without owning it")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if explicit.closed != 0 {
		t.Errorf("explicit session closed %d times, want 0", explicit.closed)
	}
}

func TestOpenClose_FactorySessionClosedOnce(t *testing.T) {
	var created []*fakeSession
	cfg := DefaultConfig("https://api.example.com", nil)
	cfg.SessionFactory = func() Session {
		s := &fakeSession{}
		created = append(created, s)
		return s
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	// Second Open is a no-op
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("factory called %d times, want 1", len(created))
	}

	for range 3 {
		if err := c.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
	if created[0].closed != 1 {
		t.Errorf("owned session closed %d times, want 1", created[0].closed)
	}
}

func TestOpen_FactoryReturnsNil(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com", nil)
	cfg.SessionFactory = func() Session { return nil }
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Open(); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Open() error = %v, want ErrInvalidSession", err)
	}
}

func TestOpen_DefaultSessionOwned(t *testing.T) {
	c, err := New(DefaultConfig("https://api.example.com", nil))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := c.bound.(*http.Client); !ok || !c.ownsBound {
		t.Errorf("Open() bound %T owned=%v, want owned *http.Client", c.bound, c.ownsBound)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.bound != nil {
		t.Error("Close() should unbind the session")
	}
}

func TestScoped(t *testing.T) {
	var created *fakeSession
	cfg := DefaultConfig("https://api.example.com", nil)
	cfg.SessionFactory = func() Session {
		created = &fakeSession{}
		return created
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	fnErr := errors.New("job failed")
	err = c.Scoped(func(c *EndpointClient) error {
		if c.bound == nil {
			t.Error("session should be bound inside Scoped")
		}
		return fnErr
	})
	if !errors.Is(err, fnErr) {
		t.Errorf("Scoped() error = %v, want %v", err, fnErr)
	}
	if created == nil || created.closed != 1 {
		t.Error("Scoped() should close the owned session on error")
	}
}

func TestResolveSession(t *testing.T) {
	explicit := &fakeSession{}
	configured := &fakeSession{}
	var factoryCalls int

	cfg := DefaultConfig("https://api.example.com", nil)
	cfg.Session = configured
	cfg.SessionFactory = func() Session {
		factoryCalls++
		return &fakeSession{}
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if s, owned := c.resolveSession(explicit); s != explicit || owned {
		t.Error("explicit session should win and not be owned")
	}
	if s, owned := c.resolveSession(nil); s != configured || owned {
		t.Error("configured session should be used when nothing is bound")
	}

	c.session = nil
	s, owned := c.resolveSession(nil)
	if !owned || factoryCalls != 1 {
		t.Error("factory session should be created per call and owned")
	}
	c.releaseSession(s, owned)
	if s.(*fakeSession).closed != 1 {
		t.Error("releaseSession should close an owned per-call session")
	}

	c.sessionFactory = nil
	if s, owned := c.resolveSession(nil); owned || s == nil {
		t.Error("default session should be shared and not owned per call")
	}
}

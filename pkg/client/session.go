package client

import (
	"fmt"
	"io"
	"net/http"
)

// Session sends HTTP requests. *http.Client satisfies it.
type Session interface {
	Do(req *http.Request) (*http.Response, error)
}

// SessionFactory creates a session owned by the client.
type SessionFactory func() Session

// closeSession releases an owned session: io.Closer wins, else idle
// connections are dropped.
func closeSession(s Session) error {
	switch v := s.(type) {
	case nil:
		return nil
	case io.Closer:
		return v.Close()
	case interface{ CloseIdleConnections() }:
		v.CloseIdleConnections()
	}
	return nil
}

// Open binds a session for subsequent calls: the configured session (never
// closed by the client), else one from the session factory, else a new
// *http.Client. The latter two are owned and closed by Close. Open on an
// already open client is a no-op.
func (c *EndpointClient) Open() error {
	if c.bound != nil {
		return nil
	}
	switch {
	case c.session != nil:
		c.bound, c.ownsBound = c.session, false
	case c.sessionFactory != nil:
		s := c.sessionFactory()
		if s == nil {
			return fmt.Errorf("%w: session factory returned nil", ErrInvalidSession)
		}
		c.bound, c.ownsBound = s, true
	default:
		c.bound, c.ownsBound = newHTTPClient(), true
	}
	c.logger.Debug().Bool("owned", c.ownsBound).Msg("Session opened")
	return nil
}

// Close releases the session bound by Open. Only owned sessions are closed,
// and only once; further calls are no-ops.
func (c *EndpointClient) Close() error {
	if c.bound == nil {
		return nil
	}
	s, owned := c.bound, c.ownsBound
	c.bound, c.ownsBound = nil, false

	if !owned {
		return nil
	}
	c.logger.Debug().Msg("Session closed")
	return closeSession(s)
}

// Scoped runs fn between Open and Close. Close runs on every exit path,
// including panics in fn.
func (c *EndpointClient) Scoped(fn func(*EndpointClient) error) (err error) {
	if err := c.Open(); err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}

// resolveSession picks the session for one call and reports whether the
// call owns it: explicit, then bound, then configured, then a fresh factory
// session (owned), then the shared default client.
func (c *EndpointClient) resolveSession(explicit Session) (Session, bool) {
	switch {
	case explicit != nil:
		return explicit, false
	case c.bound != nil:
		return c.bound, false
	case c.session != nil:
		return c.session, false
	case c.sessionFactory != nil:
		if s := c.sessionFactory(); s != nil {
			return s, true
		}
	}
	c.defaultOnce.Do(func() { c.defaultSession = newHTTPClient() })
	return c.defaultSession, false
}

// releaseSession closes a per-call session the call owns.
func (c *EndpointClient) releaseSession(s Session, owned bool) {
	if !owned {
		return
	}
	if err := closeSession(s); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close session")
	}
}

func newHTTPClient() *http.Client {
	return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
}

package pagination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// fakeFetch records every request and serves payloads from a function.
type fakeFetch struct {
	calls []map[string]any
	pages []int
	serve func(params map[string]any) (any, error)
}

func (f *fakeFetch) fetch(_ context.Context, _ string, req RequestOptions, page int) (any, error) {
	f.calls = append(f.calls, req.Params)
	f.pages = append(f.pages, page)
	return f.serve(req.Params)
}

func recordsN(start, n int, key string) []any {
	out := make([]any, n)
	for i := range n {
		out[i] = map[string]any{key: start + i}
	}
	return out
}

func TestPaginator_PageMode(t *testing.T) {
	f := &fakeFetch{serve: func(params map[string]any) (any, error) {
		switch params["page"] {
		case 1:
			return []any{map[string]any{"id": 1}, map[string]any{"id": 2}}, nil
		case 2:
			return []any{map[string]any{"id": 3}}, nil
		}
		return nil, fmt.Errorf("unexpected page %v", params["page"])
	}}

	p := New(&Config{Type: TypePage, PageSize: intPtr(2)}, f.fetch, nil)
	got, err := p.All(context.Background(), "https://api.example.com/items", RequestOptions{})
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}

	want := []Record{{"id": 1}, {"id": 2}, {"id": 3}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
	if len(f.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2 (no page 3 request)", len(f.calls))
	}
	if f.calls[0]["per_page"] != 2 {
		t.Errorf("size param = %v, want 2", f.calls[0]["per_page"])
	}
}

func TestPaginator_PageFetchedLogFields(t *testing.T) {
	f := &fakeFetch{serve: func(params map[string]any) (any, error) {
		return []any{map[string]any{"id": params["page"]}}, nil
	}}

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	p := New(&Config{Type: TypePage, PageSize: intPtr(2), StartPage: intPtr(3)}, f.fetch, nil).WithLogger(logger)
	if _, err := p.All(context.Background(), "https://api.example.com/items", RequestOptions{}); err != nil {
		t.Fatalf("All() error = %v", err)
	}

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, "Page fetched") {
			continue
		}
		found = true
		if n := strings.Count(line, `"page":`); n > 0 {
			t.Errorf("log line repeats the page param key %d times: %s", n, line)
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			t.Fatalf("log line is not JSON: %v", err)
		}
		if event["page_index"] != float64(1) || event["param"] != "page" || event["param_value"] != float64(3) {
			t.Errorf("event = %v, want page_index=1 param=page param_value=3", event)
		}
	}
	if !found {
		t.Error("no Page fetched event logged")
	}
}

func TestPaginator_OffsetMode(t *testing.T) {
	f := &fakeFetch{serve: func(params map[string]any) (any, error) {
		off := params["offset"].(int)
		return []any{map[string]any{"i": off}, map[string]any{"i": off + 1}}, nil
	}}

	p := New(&Config{Type: TypeOffset, PageSize: intPtr(2), StartPage: intPtr(0), MaxRecords: intPtr(3)}, f.fetch, nil)
	got, err := p.All(context.Background(), "https://api.example.com/rows", RequestOptions{})
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}

	want := []Record{{"i": 0}, {"i": 1}, {"i": 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
	if len(f.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", len(f.calls))
	}
	if f.calls[1]["offset"] != 2 || f.calls[1]["limit"] != 2 {
		t.Errorf("second request params = %v", f.calls[1])
	}
}

func TestPaginator_PageTermination(t *testing.T) {
	pageSizes := [][]int{
		{0},
		{5, 5, 5, 2},
		{5, 4},
		{3},
		{5, 5, 5, 5, 5, 0},
	}

	for _, sizes := range pageSizes {
		t.Run(fmt.Sprint(sizes), func(t *testing.T) {
			f := &fakeFetch{serve: func(params map[string]any) (any, error) {
				page := params["page"].(int)
				return recordsN(0, sizes[page-1], "n"), nil
			}}

			p := New(&Config{Type: TypePage, PageSize: intPtr(5)}, f.fetch, nil)
			got, err := p.All(context.Background(), "u", RequestOptions{})
			if err != nil {
				t.Fatalf("All() error = %v", err)
			}

			total := 0
			for _, s := range sizes {
				total += s
			}
			if len(got) != total {
				t.Errorf("records = %d, want %d", len(got), total)
			}
			if len(f.calls) != len(sizes) {
				t.Errorf("fetch calls = %d, want %d", len(f.calls), len(sizes))
			}
		})
	}
}

func TestPaginator_MaxRecordsTruncation(t *testing.T) {
	const available = 23
	for k := 1; k <= 30; k += 4 {
		t.Run(fmt.Sprintf("max_records=%d", k), func(t *testing.T) {
			f := &fakeFetch{serve: func(params map[string]any) (any, error) {
				start := (params["page"].(int) - 1) * 5
				n := min(5, max(available-start, 0))
				return recordsN(start, n, "n"), nil
			}}

			p := New(&Config{Type: TypePage, PageSize: intPtr(5), MaxRecords: intPtr(k)}, f.fetch, nil)
			got, err := p.All(context.Background(), "u", RequestOptions{})
			if err != nil {
				t.Fatalf("All() error = %v", err)
			}
			if want := min(k, available); len(got) != want {
				t.Errorf("records = %d, want %d", len(got), want)
			}
			if wantCalls := (min(k, available)-1)/5 + 1; len(f.calls) != wantCalls {
				t.Errorf("fetch calls = %d, want %d", len(f.calls), wantCalls)
			}
		})
	}
}

func TestPaginator_MaxPages(t *testing.T) {
	f := &fakeFetch{serve: func(map[string]any) (any, error) {
		return recordsN(0, 3, "n"), nil
	}}

	p := New(&Config{Type: TypePage, PageSize: intPtr(3), MaxPages: intPtr(2)}, f.fetch, nil)
	got, err := p.All(context.Background(), "u", RequestOptions{})
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(got) != 6 || len(f.calls) != 2 {
		t.Errorf("records = %d, calls = %d; want 6, 2", len(got), len(f.calls))
	}
}

func TestPaginator_CursorMode(t *testing.T) {
	type page struct {
		records int
		next    any
	}
	tests := []struct {
		name      string
		pages     []page
		wantCalls int
	}{
		{name: "ends on empty cursor", pages: []page{{2, "b"}, {2, "c"}, {1, ""}}, wantCalls: 3},
		{name: "ends on missing cursor", pages: []page{{2, "b"}, {2, nil}}, wantCalls: 2},
		{name: "ends on zero cursor", pages: []page{{2, 0}}, wantCalls: 1},
		{name: "ends on empty batch", pages: []page{{2, "b"}, {0, "c"}}, wantCalls: 2},
		{name: "integer cursors", pages: []page{{1, 2}, {1, 3}, {1, nil}}, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetch{}
			f.serve = func(map[string]any) (any, error) {
				pg := tt.pages[len(f.calls)-1]
				body := map[string]any{"data": recordsN(0, pg.records, "n")}
				if pg.next != nil {
					body["meta"] = map[string]any{"next": pg.next}
				}
				return body, nil
			}

			cfg := &Config{Type: TypeCursor, CursorPath: "meta.next", RecordsPath: "data", PageSize: intPtr(2)}
			if _, err := New(cfg, f.fetch, nil).All(context.Background(), "u", RequestOptions{}); err != nil {
				t.Fatalf("All() error = %v", err)
			}
			if len(f.calls) != tt.wantCalls {
				t.Errorf("fetch calls = %d, want %d", len(f.calls), tt.wantCalls)
			}
			if _, ok := f.calls[0]["cursor"]; ok {
				t.Error("first request should not carry a cursor")
			}
			if len(f.calls) > 1 && f.calls[1]["cursor"] != tt.pages[0].next {
				t.Errorf("second cursor = %v, want %v", f.calls[1]["cursor"], tt.pages[0].next)
			}
			if f.calls[0]["limit"] != 2 {
				t.Errorf("limit param = %v, want 2", f.calls[0]["limit"])
			}
		})
	}
}

func TestPaginator_CursorParamPrecedence(t *testing.T) {
	f := &fakeFetch{serve: func(map[string]any) (any, error) {
		return map[string]any{"items": []any{map[string]any{"id": 1}}}, nil
	}}

	cfg := &Config{Type: TypeCursor, StartCursor: "start", CursorPath: "next"}
	req := RequestOptions{Params: map[string]any{"limit": 7, "cursor": "caller", "q": "x"}}
	if _, err := New(cfg, f.fetch, nil).All(context.Background(), "u", req); err != nil {
		t.Fatalf("All() error = %v", err)
	}

	got := f.calls[0]
	if got["limit"] != 7 {
		t.Errorf("caller limit should override page size, got %v", got["limit"])
	}
	if got["cursor"] != "start" {
		t.Errorf("cursor = %v, want start", got["cursor"])
	}
	if got["q"] != "x" {
		t.Errorf("caller params lost: %v", got)
	}
	if req.Params["cursor"] != "caller" {
		t.Error("caller params must not be mutated")
	}
}

func TestPaginator_StartOverride(t *testing.T) {
	tests := []struct {
		name  string
		typ   Type
		start any
		want  int
	}{
		{name: "page override", typ: TypePage, start: "3", want: 3},
		{name: "page below floor", typ: TypePage, start: 0, want: 1},
		{name: "page unparseable", typ: TypePage, start: "abc", want: 4},
		{name: "offset zero allowed", typ: TypeOffset, start: 0, want: 0},
		{name: "offset negative", typ: TypeOffset, start: -5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetch{serve: func(map[string]any) (any, error) { return []any{}, nil }}
			cfg := &Config{Type: tt.typ, StartPage: intPtr(4)}
			p := New(cfg, f.fetch, nil)
			param := normalize(cfg).pageParam

			req := RequestOptions{Params: map[string]any{param: tt.start}}
			if _, err := p.All(context.Background(), "u", req); err != nil {
				t.Fatalf("All() error = %v", err)
			}
			if got, _ := coerce.ToInt(f.calls[0][param]); got != tt.want {
				t.Errorf("start = %v, want %d", f.calls[0][param], tt.want)
			}
		})
	}
}

func TestPaginator_SingleMode(t *testing.T) {
	f := &fakeFetch{serve: func(map[string]any) (any, error) {
		return map[string]any{"data": []any{map[string]any{"id": 1}, "x"}}, nil
	}}

	p := New(&Config{RecordsPath: "data"}, f.fetch, nil)
	if p.Type() != TypeNone {
		t.Fatalf("Type() = %q, want none", p.Type())
	}
	got, err := p.All(context.Background(), "u", RequestOptions{Params: map[string]any{"q": 1}})
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	want := []Record{{"id": 1}, {"value": "x"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("All() = %v, want %v", got, want)
	}
	if len(f.calls) != 1 || f.calls[0]["q"] != 1 {
		t.Errorf("calls = %v", f.calls)
	}
}

func TestPaginator_ErrorCarriesPage(t *testing.T) {
	cause := errors.New("boom")
	f := &fakeFetch{serve: func(params map[string]any) (any, error) {
		if params["page"] == 3 {
			return nil, cause
		}
		return recordsN(0, 2, "n"), nil
	}}

	p := New(&Config{Type: TypePage, PageSize: intPtr(2)}, f.fetch, nil)
	_, err := p.All(context.Background(), "https://api.example.com/x", RequestOptions{})

	var pe *Error
	if !errors.As(err, &pe) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if pe.Page != 3 || pe.URL != "https://api.example.com/x" {
		t.Errorf("Error = %+v, want page 3", pe)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the fetch error")
	}
	if !reflect.DeepEqual(f.pages, []int{1, 2, 3}) {
		t.Errorf("page indexes = %v, want [1 2 3]", f.pages)
	}
}

func TestPaginator_IterStopsFetching(t *testing.T) {
	f := &fakeFetch{serve: func(map[string]any) (any, error) {
		return recordsN(0, 2, "n"), nil
	}}

	p := New(&Config{Type: TypePage, PageSize: intPtr(2)}, f.fetch, nil)
	seen := 0
	for _, err := range p.Iter(context.Background(), "u", RequestOptions{}) {
		if err != nil {
			t.Fatalf("Iter() error = %v", err)
		}
		seen++
		if seen == 3 {
			break
		}
	}
	if len(f.calls) != 2 {
		t.Errorf("fetch calls = %d, want 2", len(f.calls))
	}

	// a second iteration starts over
	seen = 0
	for range p.Iter(context.Background(), "u", RequestOptions{}) {
		seen++
		break
	}
	if f.calls[2]["page"] != 1 {
		t.Errorf("restart page = %v, want 1", f.calls[2]["page"])
	}
}

func TestPaginator_RateLimitBetweenPages(t *testing.T) {
	f := &fakeFetch{serve: func(params map[string]any) (any, error) {
		if params["page"] == 3 {
			return []any{}, nil
		}
		return recordsN(0, 1, "n"), nil
	}}

	var sleeps []time.Duration
	limiter := ratelimit.Fixed(0.1).WithSleepFunc(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})

	p := New(&Config{Type: TypePage, PageSize: intPtr(1)}, f.fetch, limiter)
	if _, err := p.All(context.Background(), "u", RequestOptions{}); err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(sleeps) != 2 {
		t.Errorf("sleeps = %d, want 2 (between 3 requests)", len(sleeps))
	}
}

func TestPaginator_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeFetch{serve: func(map[string]any) (any, error) {
		cancel()
		return recordsN(0, 2, "n"), nil
	}}

	p := New(&Config{Type: TypePage, PageSize: intPtr(2)}, f.fetch, nil)
	_, err := p.All(ctx, "u", RequestOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(f.calls) != 1 {
		t.Errorf("fetch calls = %d, want 1", len(f.calls))
	}
}

func TestPaginator_NoFetch(t *testing.T) {
	_, err := New(&Config{Type: TypePage}, nil, nil).All(context.Background(), "u", RequestOptions{})
	if !errors.Is(err, ErrNoFetch) {
		t.Errorf("error = %v, want ErrNoFetch", err)
	}
}

package pagination

import (
	"context"
	"errors"
	"iter"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
	"github.com/Sternrassler/etl-api-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_pages_fetched_total",
		Help: "Total pages fetched by pagination strategy",
	}, []string{"strategy"})

	recordsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_records_emitted_total",
		Help: "Total records emitted by pagination strategy",
	}, []string{"strategy"})

	paginationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_api_pagination_errors_total",
		Help: "Total fetch failures during pagination by strategy",
	}, []string{"strategy"})
)

// FetchFunc performs exactly one request for url with req and returns the
// decoded payload. page is the 1-based index of the fetch within one crawl.
type FetchFunc func(ctx context.Context, url string, req RequestOptions, page int) (any, error)

// errStopped signals that the consumer stopped pulling records.
var errStopped = errors.New("iteration stopped")

// Paginator drives sequential page fetches for one endpoint. It is immutable
// after construction; all crawl state lives in a single iteration, so each
// call to All or Iter starts from the configured start page or cursor.
type Paginator struct {
	s       settings
	single  bool
	fetch   FetchFunc
	limiter *ratelimit.Limiter
	logger  zerolog.Logger
}

// New creates a Paginator. A nil cfg or one without a recognized Type
// yields a single-page paginator: one fetch, one coalesce. limiter may be
// nil.
func New(cfg *Config, fetch FetchFunc, limiter *ratelimit.Limiter) *Paginator {
	if limiter == nil {
		limiter = ratelimit.Disabled()
	}
	return &Paginator{
		s:       normalize(cfg),
		single:  !cfg.Paginated(),
		fetch:   fetch,
		limiter: limiter,
		logger:  log.With().Str("component", "paginator").Logger(),
	}
}

// WithLogger sets the logger used for page-level debug output.
func (p *Paginator) WithLogger(logger zerolog.Logger) *Paginator {
	p.logger = logger
	return p
}

// Type returns the active strategy, or TypeNone for single-page mode.
func (p *Paginator) Type() Type {
	if p.single {
		return TypeNone
	}
	return p.s.typ
}

// PageSize returns the normalized page size.
func (p *Paginator) PageSize() int {
	return p.s.pageSize
}

// All collects every record across pages.
func (p *Paginator) All(ctx context.Context, url string, req RequestOptions) ([]Record, error) {
	var out []Record
	for rec, err := range p.Iter(ctx, url, req) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Iter yields records lazily in fetch order. Pages are fetched only as the
// consumer pulls; breaking out of the loop stops further requests. A fetch
// failure is yielded once as a *Error and ends the sequence.
func (p *Paginator) Iter(ctx context.Context, url string, req RequestOptions) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if p.fetch == nil {
			yield(nil, ErrNoFetch)
			return
		}

		var err error
		switch {
		case p.single:
			err = p.iterSingle(ctx, url, req, yield)
		case p.s.typ == TypeCursor:
			err = p.iterCursor(ctx, url, req, yield)
		default:
			err = p.iterPages(ctx, url, req, yield)
		}

		if err != nil && !errors.Is(err, errStopped) {
			yield(nil, err)
		}
	}
}

func (p *Paginator) strategy() string {
	if p.single {
		return "single"
	}
	return string(p.s.typ)
}

// fetchPage runs one fetch and attaches the page index to failures.
func (p *Paginator) fetchPage(ctx context.Context, url string, req RequestOptions, page int) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := p.fetch(ctx, url, req, page)
	if err != nil {
		paginationErrorsTotal.WithLabelValues(p.strategy()).Inc()
		return nil, &Error{URL: url, Page: page, Err: err}
	}
	pagesFetchedTotal.WithLabelValues(p.strategy()).Inc()
	return payload, nil
}

// emit yields records until the consumer stops.
func (p *Paginator) emit(records []Record, yield func(Record, error) bool) error {
	for _, rec := range records {
		if !yield(rec, nil) {
			return errStopped
		}
	}
	recordsEmittedTotal.WithLabelValues(p.strategy()).Add(float64(len(records)))
	return nil
}

func (p *Paginator) iterSingle(ctx context.Context, url string, req RequestOptions, yield func(Record, error) bool) error {
	payload, err := p.fetchPage(ctx, url, req.WithParams(req.Params), 1)
	if err != nil {
		return err
	}
	return p.emit(Coalesce(payload, p.s.recordsPath, p.s.fallbackPath), yield)
}

func (p *Paginator) iterPages(ctx context.Context, url string, req RequestOptions, yield func(Record, error) bool) error {
	current := p.resolveStart(req)
	pages, emitted := 0, 0

	for {
		params := mergeParams(req.Params, map[string]any{
			p.s.pageParam: current,
			p.s.sizeParam: p.s.pageSize,
		})
		payload, err := p.fetchPage(ctx, url, req.WithParams(params), pages+1)
		if err != nil {
			return err
		}
		batch := Coalesce(payload, p.s.recordsPath, p.s.fallbackPath)
		pages++

		trimmed, exhausted := p.limitBatch(batch, emitted)
		if err := p.emit(trimmed, yield); err != nil {
			return err
		}
		emitted += len(trimmed)

		p.logger.Debug().
			Str("url", url).
			Int("page_index", pages).
			Str("param", p.s.pageParam).
			Int("param_value", current).
			Int("records", len(batch)).
			Msg("Page fetched")

		if exhausted || len(batch) < p.s.pageSize {
			return nil
		}
		if p.stopLimits(pages, emitted) {
			return nil
		}

		if p.s.typ == TypeOffset {
			current += p.s.pageSize
		} else {
			current++
		}
		if err := p.limiter.Enforce(ctx); err != nil {
			return err
		}
	}
}

func (p *Paginator) iterCursor(ctx context.Context, url string, req RequestOptions, yield func(Record, error) bool) error {
	cursor := p.s.startCursor
	pages, emitted := 0, 0

	for {
		params := mergeParams(map[string]any{p.s.limitParam: p.s.pageSize}, req.Params)
		params = mergeParams(params, map[string]any{p.s.cursorParam: cursor})
		payload, err := p.fetchPage(ctx, url, req.WithParams(params), pages+1)
		if err != nil {
			return err
		}
		batch := Coalesce(payload, p.s.recordsPath, p.s.fallbackPath)
		pages++

		trimmed, exhausted := p.limitBatch(batch, emitted)
		if err := p.emit(trimmed, yield); err != nil {
			return err
		}
		emitted += len(trimmed)

		next := NextCursor(payload, p.s.cursorPath)
		p.logger.Debug().
			Str("url", url).
			Int("page_index", pages).
			Interface("next_cursor", next).
			Int("records", len(batch)).
			Msg("Cursor page fetched")

		if exhausted || falsy(next) || len(batch) == 0 {
			return nil
		}
		if p.stopLimits(pages, emitted) {
			return nil
		}

		cursor = next
		if err := p.limiter.Enforce(ctx); err != nil {
			return err
		}
	}
}

// limitBatch trims batch to the records still allowed by max_records and
// reports whether the cap has been reached.
func (p *Paginator) limitBatch(batch []Record, emitted int) ([]Record, bool) {
	if p.s.maxRecords == 0 {
		return batch, false
	}
	remaining := p.s.maxRecords - emitted
	if remaining <= 0 {
		return nil, true
	}
	if len(batch) > remaining {
		return batch[:remaining], true
	}
	return batch, false
}

func (p *Paginator) stopLimits(pages, emitted int) bool {
	if p.s.maxPages > 0 && pages >= p.s.maxPages {
		return true
	}
	if p.s.maxRecords > 0 && emitted >= p.s.maxRecords {
		return true
	}
	return false
}

// resolveStart lets the caller override the first page or offset through
// the page parameter. Unparseable values keep the configured start; values
// below the strategy floor reset to the strategy default.
func (p *Paginator) resolveStart(req RequestOptions) int {
	raw, ok := req.Params[p.s.pageParam]
	if !ok || raw == nil {
		return p.s.startPage
	}
	parsed, ok := coerce.ToInt(raw)
	if !ok {
		return p.s.startPage
	}
	floor := defaultsFor(p.s.typ).startPage
	if parsed < floor {
		return floor
	}
	return parsed
}

// falsy reports whether a cursor value ends the crawl.
func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case int:
		return x == 0
	case int32:
		return x == 0
	case int64:
		return x == 0
	case uint64:
		return x == 0
	}
	return false
}

package pagination

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/etl-api-client/internal/coerce"
)

// ErrNotMapping is returned when a pagination block is not a mapping.
var ErrNotMapping = errors.New("pagination config must be a mapping")

// Type selects the pagination strategy.
type Type string

const (
	// TypeNone disables pagination: one fetch, one page of records.
	TypeNone Type = ""

	// TypePage uses an incrementing page number.
	TypePage Type = "page"

	// TypeOffset uses an offset that advances by the page size.
	TypeOffset Type = "offset"

	// TypeCursor follows an opaque cursor taken from each response.
	TypeCursor Type = "cursor"
)

// ParseType normalizes v (case and surrounding whitespace insensitive).
// Unknown values yield TypeNone.
func ParseType(v any) Type {
	s, ok := coerce.String(v)
	if !ok {
		return TypeNone
	}
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypePage:
		return TypePage
	case TypeOffset:
		return TypeOffset
	case TypeCursor:
		return TypeCursor
	default:
		return TypeNone
	}
}

// Defaults shared by all strategies.
const (
	DefaultPageSize    = 100
	DefaultCursorParam = "cursor"
	DefaultLimitParam  = "limit"
)

// strategyDefaults holds the parameter names and start value of one strategy.
type strategyDefaults struct {
	pageParam string
	sizeParam string
	startPage int
}

var defaultsByType = map[Type]strategyDefaults{
	TypePage:   {pageParam: "page", sizeParam: "per_page", startPage: 1},
	TypeOffset: {pageParam: "offset", sizeParam: "limit", startPage: 0},
	TypeCursor: {pageParam: "page", sizeParam: "limit", startPage: 1},
}

func defaultsFor(t Type) strategyDefaults {
	if d, ok := defaultsByType[t]; ok {
		return d
	}
	return defaultsByType[TypePage]
}

// Config describes how an endpoint paginates. Zero-value fields fall back to
// the per-strategy defaults during normalization.
type Config struct {
	Type Type `yaml:"type,omitempty" json:"type,omitempty"`

	// Page and offset strategies
	PageParam string `yaml:"page_param,omitempty" json:"page_param,omitempty"`
	SizeParam string `yaml:"size_param,omitempty" json:"size_param,omitempty"`
	StartPage *int   `yaml:"start_page,omitempty" json:"start_page,omitempty"`
	PageSize  *int   `yaml:"page_size,omitempty" json:"page_size,omitempty"`

	// Cursor strategy
	CursorParam string `yaml:"cursor_param,omitempty" json:"cursor_param,omitempty"`
	CursorPath  string `yaml:"cursor_path,omitempty" json:"cursor_path,omitempty"`
	StartCursor any    `yaml:"start_cursor,omitempty" json:"start_cursor,omitempty"`
	LimitParam  string `yaml:"limit_param,omitempty" json:"limit_param,omitempty"`

	// Record extraction and stop conditions
	RecordsPath  string `yaml:"records_path,omitempty" json:"records_path,omitempty"`
	FallbackPath string `yaml:"fallback_path,omitempty" json:"fallback_path,omitempty"`
	MaxPages     *int   `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
	MaxRecords   *int   `yaml:"max_records,omitempty" json:"max_records,omitempty"`
}

// Paginated reports whether cfg selects a known strategy.
func (c *Config) Paginated() bool {
	return c != nil && c.Type != TypeNone
}

// ConfigFromMap parses a decoded YAML/JSON mapping. Unknown keys are ignored
// and numeric fields are coerced; unparseable numbers are left unset.
func ConfigFromMap(v any) (*Config, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil, fmt.Errorf("%w, got %T", ErrNotMapping, v)
	}
	return &Config{
		Type:         ParseType(m["type"]),
		PageParam:    str(m["page_param"]),
		SizeParam:    str(m["size_param"]),
		StartPage:    coerce.IntPtr(m["start_page"]),
		PageSize:     coerce.IntPtr(m["page_size"]),
		CursorParam:  str(m["cursor_param"]),
		CursorPath:   str(m["cursor_path"]),
		StartCursor:  cursorValue(m["start_cursor"]),
		LimitParam:   str(m["limit_param"]),
		RecordsPath:  str(m["records_path"]),
		FallbackPath: str(m["fallback_path"]),
		MaxPages:     coerce.IntPtr(m["max_pages"]),
		MaxRecords:   coerce.IntPtr(m["max_records"]),
	}, nil
}

// ConfigFromDefaults parses the profile-level defaults block, which besides
// the flat keys accepts nested shapes:
//
//	params:   {page, per_page | limit, cursor, fallback_path}
//	response: {items_path, next_cursor_path, fallback_path}
//	defaults: {per_page}
//
// Flat keys win over nested ones. Non-mapping input yields nil.
func ConfigFromDefaults(v any) *Config {
	m, ok := coerce.Mapping(v)
	if !ok {
		return nil
	}
	cfg, _ := ConfigFromMap(m)

	if params, ok := coerce.Mapping(m["params"]); ok {
		cfg.PageParam = firstNonEmpty(cfg.PageParam, str(params["page"]))
		cfg.SizeParam = firstNonEmpty(cfg.SizeParam, str(params["per_page"]), str(params["limit"]))
		cfg.CursorParam = firstNonEmpty(cfg.CursorParam, str(params["cursor"]))
		cfg.FallbackPath = firstNonEmpty(cfg.FallbackPath, str(params["fallback_path"]))
	}
	if resp, ok := coerce.Mapping(m["response"]); ok {
		cfg.RecordsPath = firstNonEmpty(cfg.RecordsPath, str(resp["items_path"]))
		cfg.CursorPath = firstNonEmpty(cfg.CursorPath, str(resp["next_cursor_path"]))
		cfg.FallbackPath = firstNonEmpty(cfg.FallbackPath, str(resp["fallback_path"]))
	}
	if dflt, ok := coerce.Mapping(m["defaults"]); ok && cfg.PageSize == nil {
		cfg.PageSize = coerce.IntPtr(dflt["per_page"])
	}
	return cfg
}

// Merge returns a copy of c with every set field of overrides applied.
// Either side may be nil.
func (c *Config) Merge(overrides *Config) *Config {
	var out Config
	if c != nil {
		out = *c
	}
	if overrides == nil {
		if c == nil {
			return nil
		}
		return &out
	}
	if overrides.Type != TypeNone {
		out.Type = overrides.Type
	}
	out.PageParam = firstNonEmpty(overrides.PageParam, out.PageParam)
	out.SizeParam = firstNonEmpty(overrides.SizeParam, out.SizeParam)
	out.CursorParam = firstNonEmpty(overrides.CursorParam, out.CursorParam)
	out.CursorPath = firstNonEmpty(overrides.CursorPath, out.CursorPath)
	out.LimitParam = firstNonEmpty(overrides.LimitParam, out.LimitParam)
	out.RecordsPath = firstNonEmpty(overrides.RecordsPath, out.RecordsPath)
	out.FallbackPath = firstNonEmpty(overrides.FallbackPath, out.FallbackPath)
	if overrides.StartPage != nil {
		out.StartPage = overrides.StartPage
	}
	if overrides.PageSize != nil {
		out.PageSize = overrides.PageSize
	}
	if overrides.StartCursor != nil {
		out.StartCursor = overrides.StartCursor
	}
	if overrides.MaxPages != nil {
		out.MaxPages = overrides.MaxPages
	}
	if overrides.MaxRecords != nil {
		out.MaxRecords = overrides.MaxRecords
	}
	return &out
}

// Validate returns warnings for suspicious numeric bounds. It never fails;
// normalization clamps the values anyway.
func (c *Config) Validate() []string {
	if c == nil {
		return nil
	}
	var warnings []string
	if c.MaxPages != nil && *c.MaxPages <= 0 {
		warnings = append(warnings, "max_pages should be > 0")
	}
	if c.MaxRecords != nil && *c.MaxRecords <= 0 {
		warnings = append(warnings, "max_records should be > 0")
	}
	switch c.Type {
	case TypePage, TypeOffset:
		if c.StartPage != nil && *c.StartPage < defaultsFor(c.Type).startPage {
			warnings = append(warnings, fmt.Sprintf("start_page should be >= %d", defaultsFor(c.Type).startPage))
		}
		if c.PageSize != nil && *c.PageSize <= 0 {
			warnings = append(warnings, "page_size should be > 0")
		}
	case TypeCursor:
		if c.PageSize != nil && *c.PageSize <= 0 {
			warnings = append(warnings, "page_size should be > 0 for cursor pagination")
		}
	}
	return warnings
}

// settings is the normalized, immutable form of Config used by a Paginator.
type settings struct {
	typ          Type
	pageParam    string
	sizeParam    string
	startPage    int
	pageSize     int
	cursorParam  string
	cursorPath   string
	startCursor  any
	limitParam   string
	recordsPath  string
	fallbackPath string
	maxPages     int // 0 means unlimited
	maxRecords   int // 0 means unlimited
}

func normalize(c *Config) settings {
	if c == nil {
		c = &Config{}
	}
	typ := c.Type
	if typ == TypeNone {
		typ = TypePage
	}
	d := defaultsFor(typ)

	s := settings{
		typ:          typ,
		pageParam:    firstNonEmpty(c.PageParam, d.pageParam),
		sizeParam:    firstNonEmpty(c.SizeParam, d.sizeParam),
		startPage:    d.startPage,
		pageSize:     DefaultPageSize,
		cursorParam:  firstNonEmpty(c.CursorParam, DefaultCursorParam),
		cursorPath:   c.CursorPath,
		startCursor:  c.StartCursor,
		limitParam:   firstNonEmpty(c.LimitParam, DefaultLimitParam),
		recordsPath:  c.RecordsPath,
		fallbackPath: c.FallbackPath,
	}
	if c.PageSize != nil {
		s.pageSize = max(*c.PageSize, 1)
	}
	if c.StartPage != nil {
		s.startPage = max(*c.StartPage, d.startPage)
	}
	if c.MaxPages != nil {
		s.maxPages = max(*c.MaxPages, 1)
	}
	if c.MaxRecords != nil {
		s.maxRecords = max(*c.MaxRecords, 1)
	}
	return s
}

func str(v any) string {
	s, _ := coerce.String(v)
	return s
}

// cursorValue keeps strings and integers; anything else is dropped.
func cursorValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	}
	if i, ok := coerce.ToInt(v); ok {
		if _, isFloat := v.(float64); !isFloat {
			return int64(i)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Package pagination drives sequential page fetches against REST endpoints
// and flattens each page payload into records.
//
// Three strategies are supported, selected by Config.Type:
//   - page:   an incrementing page number (page_param / size_param)
//   - offset: an offset that advances by the page size
//   - cursor: an opaque cursor read from each response via cursor_path
//
// Without a recognized type the paginator performs a single fetch.
//
// Example usage:
//
//	cfg, _ := pagination.ConfigFromMap(map[string]any{
//		"type":         "page",
//		"page_size":    100,
//		"records_path": "data.items",
//		"max_pages":    10,
//	})
//	p := pagination.New(cfg, fetch, ratelimit.Fixed(0.5))
//	for rec, err := range p.Iter(ctx, "https://api.example.com/v1/items", pagination.RequestOptions{}) {
//		if err != nil {
//			return err
//		}
//		process(rec)
//	}
//
// Pages are never fetched in parallel: each request depends on the previous
// response and the rate limiter spaces requests by wall-clock time.
// A crawl stops when max_records is reached, when a page comes back short
// (page/offset) or without a next cursor (cursor), or when max_pages pages
// have been fetched. Fetch failures surface as *Error carrying the 1-based
// page index.
package pagination

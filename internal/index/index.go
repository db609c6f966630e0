package index

import "context"

// Searcher answers keyword queries. Consumers depend on it rather than on
// *DB so handlers can be tested with fakes.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, publishedOnly bool) ([]SearchResult, error)
}

// Verify *DB satisfies Searcher at compile time.
var _ Searcher = (*DB)(nil)

package sphinx

import (
	"fmt"

	"github.com/pior/sphinx/searchd"
	"github.com/pior/sphinx/wire"
)

// MultiQuery is a batch of search queries sent as one request. searchd
// matches them in one pass and replies with one result per query, in the
// order they were added.
//
// All queries must use the version of the batch. Versions before 0x113
// carry no query count and accept a single query.
type MultiQuery struct {
	version searchd.Version
	body    *wire.Buffer
	count   int
}

// NewMultiQuery returns an empty batch for search version v.
func NewMultiQuery(v searchd.Version) *MultiQuery {
	return &MultiQuery{
		version: v,
		body:    wire.NewBuffer(0, true),
	}
}

// Add encodes a query at the end of the batch.
func (q *MultiQuery) Add(query string, cfg *searchd.SearchConfig) error {
	if cfg.Version != q.version {
		return &searchd.ClientUsageError{
			Message: fmt.Sprintf("multiquery version %s does not match added query version %s", q.version, cfg.Version),
		}
	}
	if q.count > 0 && q.version < MinMultiQueryVersion {
		return &searchd.ClientUsageError{
			Message: fmt.Sprintf("search version %s does not support multiqueries", q.version),
		}
	}

	// A failed encode must not leave a partial body behind.
	body := wire.NewBuffer(0, true)
	if err := searchd.EncodeSearch(body, query, cfg); err != nil {
		return err
	}
	q.body.PutBuffer(body)
	q.count++
	return nil
}

// Len returns the number of queries.
func (q *MultiQuery) Len() int { return q.count }

// Version returns the search version of the batch.
func (q *MultiQuery) Version() searchd.Version { return q.version }

// Reset empties the batch and binds it to version v.
func (q *MultiQuery) Reset(v searchd.Version) {
	q.version = v
	q.body.Reset()
	q.count = 0
}

func (q *MultiQuery) request() (*wire.Buffer, error) {
	if q.count == 0 || q.body.Len() == 0 {
		return nil, &searchd.ClientUsageError{Message: "multiquery is empty"}
	}
	return searchd.BuildRequest(searchd.CommandSearch, q.version, q.body, q.count), nil
}

package storesync

import (
	"context"
	"time"
)

// PageIterator walks a resource kind page by page using the since_id cursor.
// It stops on an empty page or on a page shorter than the limit.
type PageIterator struct {
	api   StoreAPI
	conn  Connection
	kind  ResourceKind
	query PageQuery
	done  bool
	pages int
}

// NewPageIterator builds the query for kind: orders include every status,
// products only published ones, and createdAtMin applies to customers and
// orders only.
func NewPageIterator(api StoreAPI, conn Connection, kind ResourceKind, createdAtMin *time.Time) *PageIterator {
	q := PageQuery{Limit: MaxPageSize}
	switch kind {
	case ResourceCustomers:
		q.CreatedAtMin = createdAtMin
	case ResourceProducts:
		q.PublishedStatus = "published"
	case ResourceOrders:
		q.CreatedAtMin = createdAtMin
		q.Status = "any"
	}
	return &PageIterator{api: api, conn: conn, kind: kind, query: q}
}

// SetLimit changes the page size of the following requests. Values outside
// [1, MaxPageSize] mean MaxPageSize.
func (it *PageIterator) SetLimit(limit int) {
	it.query.Limit = PageQuery{Limit: limit}.EffectiveLimit()
}

// Done reports whether the last page has been returned
func (it *PageIterator) Done() bool {
	return it.done
}

// Pages returns the number of requests issued so far
func (it *PageIterator) Pages() int {
	return it.pages
}

// Query returns the query the next request will use
func (it *PageIterator) Query() PageQuery {
	return it.query
}

// Next fetches the next page. After the final page Done returns true and
// further calls return an empty page without a request.
func (it *PageIterator) Next(ctx context.Context) (*Page, error) {
	if it.done {
		return &Page{Kind: it.kind}, nil
	}

	it.pages++
	page, err := it.api.FetchPage(ctx, it.conn, it.kind, it.query)
	if err != nil {
		return nil, err
	}
	if page == nil {
		page = &Page{Kind: it.kind}
	}

	n := page.Len()
	if n == 0 || n < it.query.EffectiveLimit() {
		it.done = true
	}
	if n > 0 {
		it.query.SinceID = page.LastID()
	}
	return page, nil
}

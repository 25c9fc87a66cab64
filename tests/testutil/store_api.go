package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/storesync/backend/internal/domain/storesync"
)

// FetchCall is one FetchPage request seen by FakeStoreAPI
type FetchCall struct {
	Kind  storesync.ResourceKind
	Query storesync.PageQuery
}

// FakeStoreAPI is a scripted store API. It serves its records in id order,
// honouring since_id, created_at_min and limit like the real platform.
type FakeStoreAPI struct {
	mu        sync.Mutex
	customers []storesync.RemoteCustomer
	products  []storesync.RemoteProduct
	orders    []storesync.RemoteOrder
	shop      storesync.ShopInfo
	fetchErrs map[storesync.ResourceKind]error
	verifyErr error
	calls     []FetchCall

	// OnFetch runs before every page request, outside the lock. Tests use it
	// to block a sync at a known point.
	OnFetch func(kind storesync.ResourceKind, q storesync.PageQuery)
}

// NewFakeStoreAPI creates a store API serving the given records
func NewFakeStoreAPI(customers []storesync.RemoteCustomer, products []storesync.RemoteProduct, orders []storesync.RemoteOrder) *FakeStoreAPI {
	return &FakeStoreAPI{
		customers: customers,
		products:  products,
		orders:    orders,
		shop:      storesync.ShopInfo{ID: 42, Name: "Acme", Currency: "USD", Timezone: "America/New_York"},
		fetchErrs: make(map[storesync.ResourceKind]error),
	}
}

// FailKind makes every page request of kind fail with err; nil clears it
func (f *FakeStoreAPI) FailKind(kind storesync.ResourceKind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fetchErrs, kind)
		return
	}
	f.fetchErrs[kind] = err
}

// FailVerify makes VerifyConnection fail with err; nil clears it
func (f *FakeStoreAPI) FailVerify(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyErr = err
}

// SetCustomers replaces the served customers
func (f *FakeStoreAPI) SetCustomers(customers []storesync.RemoteCustomer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers = customers
}

// Calls returns the page requests made so far
func (f *FakeStoreAPI) Calls() []FetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FetchCall(nil), f.calls...)
}

// CallsFor returns the page requests made for kind
func (f *FakeStoreAPI) CallsFor(kind storesync.ResourceKind) []FetchCall {
	var out []FetchCall
	for _, c := range f.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// FetchPage implements storesync.StoreAPI
func (f *FakeStoreAPI) FetchPage(ctx context.Context, _ storesync.Connection, kind storesync.ResourceKind, q storesync.PageQuery) (*storesync.Page, error) {
	if hook := f.OnFetch; hook != nil {
		hook(kind, q)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storesync.ErrSourceUnavailable, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FetchCall{Kind: kind, Query: q})
	if err := f.fetchErrs[kind]; err != nil {
		return nil, err
	}

	limit := q.EffectiveLimit()
	page := &storesync.Page{Kind: kind}
	switch kind {
	case storesync.ResourceCustomers:
		for _, c := range f.customers {
			if len(page.Customers) == limit {
				break
			}
			if c.ID > q.SinceID && createdAfter(c.CreatedAt, q.CreatedAtMin) {
				page.Customers = append(page.Customers, c)
			}
		}
	case storesync.ResourceProducts:
		for _, p := range f.products {
			if len(page.Products) == limit {
				break
			}
			if p.ID > q.SinceID {
				page.Products = append(page.Products, p)
			}
		}
	case storesync.ResourceOrders:
		for _, o := range f.orders {
			if len(page.Orders) == limit {
				break
			}
			if o.ID > q.SinceID && createdAfter(o.CreatedAt, q.CreatedAtMin) {
				page.Orders = append(page.Orders, o)
			}
		}
	}
	return page, nil
}

// VerifyConnection implements storesync.StoreAPI
func (f *FakeStoreAPI) VerifyConnection(_ context.Context, conn storesync.Connection) (*storesync.ShopInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	shop := f.shop
	shop.Domain = conn.Domain
	return &shop, nil
}

// CountResources implements storesync.StoreAPI
func (f *FakeStoreAPI) CountResources(context.Context, storesync.Connection) (*storesync.ResourceCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &storesync.ResourceCounts{
		Customers: int64(len(f.customers)),
		Products:  int64(len(f.products)),
		Orders:    int64(len(f.orders)),
	}, nil
}

func createdAfter(created, since *time.Time) bool {
	if since == nil || created == nil {
		return true
	}
	return !created.Before(*since)
}

var _ storesync.StoreAPI = (*FakeStoreAPI)(nil)

// ---------------------------------------------------------------------------
// Record generators
// ---------------------------------------------------------------------------

// GenerateCustomers returns n customers with ids 1..n
func GenerateCustomers(n int) []storesync.RemoteCustomer {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]storesync.RemoteCustomer, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = storesync.RemoteCustomer{
			ID:          id,
			FirstName:   "Customer",
			LastName:    fmt.Sprintf("%d", id),
			Email:       fmt.Sprintf("customer%d@example.com", id),
			TotalSpent:  "19.99",
			OrdersCount: 1,
			CreatedAt:   &created,
			UpdatedAt:   &created,
		}
	}
	return out
}

// GenerateProducts returns n products with ids 1..n and one variant each
func GenerateProducts(n int) []storesync.RemoteProduct {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]storesync.RemoteProduct, n)
	for i := range out {
		id := int64(i + 1)
		out[i] = storesync.RemoteProduct{
			ID:     id,
			Title:  fmt.Sprintf("Product %d", id),
			Vendor: "Acme",
			Status: "active",
			Variants: []storesync.RemoteVariant{{
				ID:                id*10 + 1,
				Price:             "9.50",
				InventoryQuantity: 5,
			}},
			CreatedAt: &created,
			UpdatedAt: &created,
		}
	}
	return out
}

// GenerateOrders returns n orders with ids 1..n, each with lines line items
func GenerateOrders(n, lines int) []storesync.RemoteOrder {
	created := time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)
	out := make([]storesync.RemoteOrder, n)
	for i := range out {
		id := int64(i + 1)
		o := storesync.RemoteOrder{
			ID:              id,
			OrderNumber:     1000 + i + 1,
			Name:            fmt.Sprintf("#%d", 1000+i+1),
			FinancialStatus: "paid",
			Currency:        "USD",
			TotalPrice:      "19.00",
			SubtotalPrice:   "19.00",
			Customer:        &storesync.RemoteCustomerRef{ID: id},
			CreatedAt:       &created,
			UpdatedAt:       &created,
		}
		for l := 0; l < lines; l++ {
			pid := int64(l + 1)
			o.LineItems = append(o.LineItems, storesync.RemoteLineItem{
				ID:        id*100 + int64(l+1),
				ProductID: &pid,
				Title:     fmt.Sprintf("Product %d", pid),
				Quantity:  2,
				Price:     "9.50",
			})
		}
		out[i] = o
	}
	return out
}

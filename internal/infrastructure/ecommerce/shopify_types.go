package ecommerce

import (
	"encoding/json"
	"fmt"

	"github.com/storesync/backend/internal/domain/storesync"
)

// shopifyPageResponse is the envelope of every list endpoint. Only the key
// of the requested kind is present. Records stay raw so one malformed record
// does not fail the page.
type shopifyPageResponse struct {
	Customers []json.RawMessage `json:"customers"`
	Products  []json.RawMessage `json:"products"`
	Orders    []json.RawMessage `json:"orders"`
}

func (r *shopifyPageResponse) toPage(kind storesync.ResourceKind) *storesync.Page {
	page := &storesync.Page{Kind: kind}
	switch kind {
	case storesync.ResourceCustomers:
		page.Customers, page.Invalid = decodeRecords[storesync.RemoteCustomer](kind, r.Customers)
	case storesync.ResourceProducts:
		page.Products, page.Invalid = decodeRecords[storesync.RemoteProduct](kind, r.Products)
	case storesync.ResourceOrders:
		page.Orders, page.Invalid = decodeRecords[storesync.RemoteOrder](kind, r.Orders)
	}
	return page
}

// decodeRecords decodes each record on its own. A record that does not decode
// becomes an invalid record error carrying its id when the id is readable.
func decodeRecords[T any](kind storesync.ResourceKind, raws []json.RawMessage) ([]T, []storesync.RecordError) {
	out := make([]T, 0, len(raws))
	var invalid []storesync.RecordError
	for _, raw := range raws {
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			var ref struct {
				ID int64 `json:"id"`
			}
			_ = json.Unmarshal(raw, &ref)
			invalid = append(invalid, storesync.NewRecordError(kind, ref.ID,
				fmt.Errorf("%w: %v", storesync.ErrInvalidRecord, err)))
			continue
		}
		out = append(out, rec)
	}
	return out, invalid
}

type shopifyShopResponse struct {
	Shop *storesync.ShopInfo `json:"shop"`
}

type shopifyCountResponse struct {
	Count int64 `json:"count"`
}

type shopifyErrorResponse struct {
	Errors any `json:"errors"`
}

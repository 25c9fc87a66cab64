package storesync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Amount is a numeric value as the store API sends it. Prices arrive as
// strings ("19.99") while weights and counts arrive as numbers; both decode
// into the same textual form. Null decodes to the empty string.
type Amount string

// UnmarshalJSON accepts a JSON string, number or null
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(n.String())
	return nil
}

// MarshalJSON writes the amount back as a string, or null when empty
func (a Amount) MarshalJSON() ([]byte, error) {
	if a == "" {
		return []byte("null"), nil
	}
	return json.Marshal(string(a))
}

// ---------------------------------------------------------------------------
// Remote (store API) representations
// ---------------------------------------------------------------------------

// RemoteCustomer is a customer as returned by the store API
type RemoteCustomer struct {
	ID             int64           `json:"id"`
	Email          string          `json:"email"`
	FirstName      string          `json:"first_name"`
	LastName       string          `json:"last_name"`
	Phone          string          `json:"phone"`
	State          string          `json:"state"`
	TotalSpent     Amount          `json:"total_spent"`
	OrdersCount    int             `json:"orders_count"`
	LastOrderID    *int64          `json:"last_order_id"`
	LastOrderName  string          `json:"last_order_name"`
	Note           string          `json:"note"`
	VerifiedEmail  bool            `json:"verified_email"`
	TaxExempt      bool            `json:"tax_exempt"`
	Tags           string          `json:"tags"`
	Currency       string          `json:"currency"`
	Addresses      json.RawMessage `json:"addresses,omitempty"`
	DefaultAddress json.RawMessage `json:"default_address,omitempty"`
	CreatedAt      *time.Time      `json:"created_at"`
	UpdatedAt      *time.Time      `json:"updated_at"`
}

// RemoteVariant is a product variant as returned by the store API
type RemoteVariant struct {
	ID                  int64      `json:"id"`
	ProductID           int64      `json:"product_id"`
	Title               string     `json:"title"`
	Price               Amount     `json:"price"`
	CompareAtPrice      Amount     `json:"compare_at_price"`
	SKU                 string     `json:"sku"`
	Position            int        `json:"position"`
	InventoryQuantity   int        `json:"inventory_quantity"`
	InventoryPolicy     string     `json:"inventory_policy"`
	InventoryManagement string     `json:"inventory_management"`
	Grams               int        `json:"grams"`
	Barcode             string     `json:"barcode"`
	Option1             *string    `json:"option1"`
	Option2             *string    `json:"option2"`
	Option3             *string    `json:"option3"`
	CreatedAt           *time.Time `json:"created_at"`
	UpdatedAt           *time.Time `json:"updated_at"`
}

// RemoteProduct is a product as returned by the store API
type RemoteProduct struct {
	ID             int64           `json:"id"`
	Title          string          `json:"title"`
	BodyHTML       string          `json:"body_html"`
	Vendor         string          `json:"vendor"`
	ProductType    string          `json:"product_type"`
	Handle         string          `json:"handle"`
	Status         string          `json:"status"`
	PublishedScope string          `json:"published_scope"`
	Tags           string          `json:"tags"`
	Variants       []RemoteVariant `json:"variants"`
	Options        json.RawMessage `json:"options,omitempty"`
	Images         json.RawMessage `json:"images,omitempty"`
	Image          json.RawMessage `json:"image,omitempty"`
	PublishedAt    *time.Time      `json:"published_at"`
	CreatedAt      *time.Time      `json:"created_at"`
	UpdatedAt      *time.Time      `json:"updated_at"`
}

// RemoteLineItem is an order line as returned by the store API
type RemoteLineItem struct {
	ID                 int64           `json:"id"`
	ProductID          *int64          `json:"product_id"`
	VariantID          *int64          `json:"variant_id"`
	Title              string          `json:"title"`
	Name               string          `json:"name"`
	VariantTitle       string          `json:"variant_title"`
	Vendor             string          `json:"vendor"`
	ProductType        string          `json:"product_type"`
	SKU                string          `json:"sku"`
	Quantity           int             `json:"quantity"`
	Price              Amount          `json:"price"`
	TotalDiscount      Amount          `json:"total_discount"`
	Grams              int             `json:"grams"`
	Taxable            bool            `json:"taxable"`
	RequiresShipping   bool            `json:"requires_shipping"`
	FulfillmentStatus  string          `json:"fulfillment_status"`
	FulfillmentService string          `json:"fulfillment_service"`
	Properties         json.RawMessage `json:"properties,omitempty"`
	TaxLines           json.RawMessage `json:"tax_lines,omitempty"`
}

// RemoteCustomerRef is the customer stub embedded in an order
type RemoteCustomerRef struct {
	ID int64 `json:"id"`
}

// RemoteOrder is an order as returned by the store API
type RemoteOrder struct {
	ID                int64              `json:"id"`
	OrderNumber       int                `json:"order_number"`
	Name              string             `json:"name"`
	Email             string             `json:"email"`
	Phone             string             `json:"phone"`
	FinancialStatus   string             `json:"financial_status"`
	FulfillmentStatus string             `json:"fulfillment_status"`
	Currency          string             `json:"currency"`
	TotalPrice        Amount             `json:"total_price"`
	SubtotalPrice     Amount             `json:"subtotal_price"`
	TotalTax          Amount             `json:"total_tax"`
	TotalDiscounts    Amount             `json:"total_discounts"`
	TotalWeight       Amount             `json:"total_weight"`
	TaxesIncluded     bool               `json:"taxes_included"`
	Confirmed         bool               `json:"confirmed"`
	Test              bool               `json:"test"`
	Gateway           string             `json:"gateway"`
	SourceName        string             `json:"source_name"`
	LandingSite       string             `json:"landing_site"`
	ReferringSite     string             `json:"referring_site"`
	Note              string             `json:"note"`
	Tags              string             `json:"tags"`
	Customer          *RemoteCustomerRef `json:"customer"`
	BillingAddress    json.RawMessage    `json:"billing_address,omitempty"`
	ShippingAddress   json.RawMessage    `json:"shipping_address,omitempty"`
	TaxLines          json.RawMessage    `json:"tax_lines,omitempty"`
	DiscountCodes     json.RawMessage    `json:"discount_codes,omitempty"`
	LineItems         []RemoteLineItem   `json:"line_items"`
	ProcessedAt       *time.Time         `json:"processed_at"`
	CancelledAt       *time.Time         `json:"cancelled_at"`
	CreatedAt         *time.Time         `json:"created_at"`
	UpdatedAt         *time.Time         `json:"updated_at"`
}

// ---------------------------------------------------------------------------
// Page
// ---------------------------------------------------------------------------

// MaxPageSize is the largest page the store API returns
const MaxPageSize = 250

// PageQuery holds the parameters of one page request
type PageQuery struct {
	Limit           int
	SinceID         int64
	CreatedAtMin    *time.Time
	Status          string
	PublishedStatus string
}

// EffectiveLimit clamps the limit to [1, MaxPageSize]; zero means MaxPageSize
func (q PageQuery) EffectiveLimit() int {
	if q.Limit <= 0 || q.Limit > MaxPageSize {
		return MaxPageSize
	}
	return q.Limit
}

// Page is one page of one resource kind. Only the slice matching Kind is set.
// Invalid holds the records the source sent that could not be decoded; they
// count toward the page length and the cursor but are never persisted.
type Page struct {
	Kind      ResourceKind
	Customers []RemoteCustomer
	Products  []RemoteProduct
	Orders    []RemoteOrder
	Invalid   []RecordError
}

// Len returns the number of records in the page, decoded or not
func (p *Page) Len() int {
	return p.decoded() + len(p.Invalid)
}

func (p *Page) decoded() int {
	switch p.Kind {
	case ResourceCustomers:
		return len(p.Customers)
	case ResourceProducts:
		return len(p.Products)
	case ResourceOrders:
		return len(p.Orders)
	}
	return 0
}

// LastID returns the highest external id on the page, the cursor for the
// next page. Ids ascend within a since_id page.
func (p *Page) LastID() int64 {
	var last int64
	if n := p.decoded(); n > 0 {
		switch p.Kind {
		case ResourceCustomers:
			last = p.Customers[n-1].ID
		case ResourceProducts:
			last = p.Products[n-1].ID
		case ResourceOrders:
			last = p.Orders[n-1].ID
		}
	}
	for _, rerr := range p.Invalid {
		last = max(last, rerr.ExternalID)
	}
	return last
}

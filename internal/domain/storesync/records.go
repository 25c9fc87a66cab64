package storesync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ResourceKind
// ---------------------------------------------------------------------------

// ResourceKind identifies one of the synced resource collections
type ResourceKind string

const (
	ResourceCustomers ResourceKind = "customers"
	ResourceProducts  ResourceKind = "products"
	ResourceOrders    ResourceKind = "orders"
)

// SyncOrder is the fixed order resource kinds are synced in. Orders come last
// so the customers and products they reference already exist locally.
var SyncOrder = []ResourceKind{ResourceCustomers, ResourceProducts, ResourceOrders}

// IsValid returns true if the kind is known
func (k ResourceKind) IsValid() bool {
	switch k {
	case ResourceCustomers, ResourceProducts, ResourceOrders:
		return true
	}
	return false
}

// Singular returns the singular noun used in messages
func (k ResourceKind) Singular() string {
	switch k {
	case ResourceCustomers:
		return "customer"
	case ResourceProducts:
		return "product"
	case ResourceOrders:
		return "order"
	}
	return string(k)
}

// BatchSize returns how many records of the kind are persisted per gateway call
func (k ResourceKind) BatchSize() int {
	if k == ResourceCustomers {
		return 100
	}
	return 50
}

// String returns the string representation
func (k ResourceKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// Local records
// ---------------------------------------------------------------------------

// Customer is the local mirror of a shop customer
type Customer struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	StoreID         uuid.UUID
	ExternalID      int64
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	State           string
	TotalSpent      decimal.Decimal
	OrdersCount     int
	LastOrderID     *int64
	LastOrderName   string
	Note            string
	VerifiedEmail   bool
	TaxExempt       bool
	Tags            string
	Currency        string
	Addresses       json.RawMessage
	DefaultAddress  json.RawMessage
	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time
}

// Product is the local mirror of a shop product
type Product struct {
	ID                  uuid.UUID
	TenantID            uuid.UUID
	StoreID             uuid.UUID
	ExternalID          int64
	Title               string
	BodyHTML            string
	Vendor              string
	ProductType         string
	Handle              string
	Status              string
	PublishedScope      string
	Tags                string
	Price               decimal.Decimal
	CompareAtPrice      decimal.Decimal
	InventoryQuantity   int
	InventoryPolicy     string
	InventoryManagement string
	Variants            json.RawMessage
	Options             json.RawMessage
	Images              json.RawMessage
	Image               json.RawMessage
	PublishedAt         *time.Time
	SourceCreatedAt     *time.Time
	SourceUpdatedAt     *time.Time
}

// Order is the local mirror of a shop order. LineItems are persisted
// separately after the order itself.
type Order struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	StoreID            uuid.UUID
	ExternalID         int64
	OrderNumber        int
	Name               string
	Email              string
	Phone              string
	CustomerExternalID *int64
	FinancialStatus    string
	FulfillmentStatus  string
	Currency           string
	TotalPrice         decimal.Decimal
	SubtotalPrice      decimal.Decimal
	TotalTax           decimal.Decimal
	TotalDiscounts     decimal.Decimal
	TotalWeight        decimal.Decimal
	TaxesIncluded      bool
	Confirmed          bool
	Test               bool
	Gateway            string
	SourceName         string
	LandingSite        string
	ReferringSite      string
	Note               string
	Tags               string
	BillingAddress     json.RawMessage
	ShippingAddress    json.RawMessage
	TaxLines           json.RawMessage
	DiscountCodes      json.RawMessage
	ProcessedAt        *time.Time
	CancelledAt        *time.Time
	SourceCreatedAt    *time.Time
	SourceUpdatedAt    *time.Time
	LineItems          []LineItem
}

// LineItem is one line of an order, unique per (order, external line item id)
type LineItem struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	StoreID            uuid.UUID
	OrderID            uuid.UUID
	ExternalID         int64
	ProductExternalID  *int64
	VariantExternalID  *int64
	Title              string
	Name               string
	VariantTitle       string
	Vendor             string
	ProductType        string
	SKU                string
	Quantity           int
	Price              decimal.Decimal
	TotalDiscount      decimal.Decimal
	Grams              int
	Taxable            bool
	RequiresShipping   bool
	FulfillmentStatus  string
	FulfillmentService string
	Properties         json.RawMessage
	TaxLines           json.RawMessage
}

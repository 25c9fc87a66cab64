package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storesync/backend/internal/domain/storesync"
)

// Synced record tables share the unique key (tenant_id, external_id). Upserts
// target that key and never overwrite id or created_at.

// CustomerModel is the persistence model for a synced customer
type CustomerModel struct {
	ID              uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_customers_tenant_external,priority:1"`
	StoreID         uuid.UUID       `gorm:"type:uuid;not null;index:idx_customers_store"`
	ExternalID      int64           `gorm:"not null;uniqueIndex:idx_customers_tenant_external,priority:2"`
	FirstName       string          `gorm:"type:varchar(255)"`
	LastName        string          `gorm:"type:varchar(255)"`
	Email           string          `gorm:"type:varchar(255);index:idx_customers_email"`
	Phone           string          `gorm:"type:varchar(50)"`
	State           string          `gorm:"type:varchar(20)"`
	TotalSpent      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	OrdersCount     int             `gorm:"not null;default:0"`
	LastOrderID     *int64
	LastOrderName   string     `gorm:"type:varchar(50)"`
	Note            string     `gorm:"type:text"`
	VerifiedEmail   bool       `gorm:"not null;default:false"`
	TaxExempt       bool       `gorm:"not null;default:false"`
	Tags            string     `gorm:"type:text"`
	Currency        string     `gorm:"type:varchar(3)"`
	AddressesJSON   string     `gorm:"type:jsonb;column:addresses"`
	DefaultAddrJSON string     `gorm:"type:jsonb;column:default_address"`
	SourceCreatedAt *time.Time `gorm:"index:idx_customers_source_created"`
	SourceUpdatedAt *time.Time
	SyncedAt        time.Time `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// CustomerUpdateColumns are overwritten when a customer already exists
var CustomerUpdateColumns = []string{
	"store_id", "first_name", "last_name", "email", "phone", "state", "total_spent",
	"orders_count", "last_order_id", "last_order_name", "note", "verified_email",
	"tax_exempt", "tags", "currency", "addresses", "default_address",
	"source_created_at", "source_updated_at", "synced_at", "updated_at",
}

// CustomerModelFromDomain creates a model from a domain customer
func CustomerModelFromDomain(c *storesync.Customer, now time.Time) *CustomerModel {
	return &CustomerModel{
		ID:              c.ID,
		TenantID:        c.TenantID,
		StoreID:         c.StoreID,
		ExternalID:      c.ExternalID,
		FirstName:       c.FirstName,
		LastName:        c.LastName,
		Email:           c.Email,
		Phone:           c.Phone,
		State:           c.State,
		TotalSpent:      c.TotalSpent,
		OrdersCount:     c.OrdersCount,
		LastOrderID:     c.LastOrderID,
		LastOrderName:   c.LastOrderName,
		Note:            c.Note,
		VerifiedEmail:   c.VerifiedEmail,
		TaxExempt:       c.TaxExempt,
		Tags:            c.Tags,
		Currency:        c.Currency,
		AddressesJSON:   jsonText(c.Addresses, "[]"),
		DefaultAddrJSON: jsonText(c.DefaultAddress, "null"),
		SourceCreatedAt: c.SourceCreatedAt,
		SourceUpdatedAt: c.SourceUpdatedAt,
		SyncedAt:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// ToDomain converts the model to a domain customer
func (m *CustomerModel) ToDomain() *storesync.Customer {
	return &storesync.Customer{
		ID:              m.ID,
		TenantID:        m.TenantID,
		StoreID:         m.StoreID,
		ExternalID:      m.ExternalID,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		Email:           m.Email,
		Phone:           m.Phone,
		State:           m.State,
		TotalSpent:      m.TotalSpent,
		OrdersCount:     m.OrdersCount,
		LastOrderID:     m.LastOrderID,
		LastOrderName:   m.LastOrderName,
		Note:            m.Note,
		VerifiedEmail:   m.VerifiedEmail,
		TaxExempt:       m.TaxExempt,
		Tags:            m.Tags,
		Currency:        m.Currency,
		Addresses:       json.RawMessage(m.AddressesJSON),
		DefaultAddress:  json.RawMessage(m.DefaultAddrJSON),
		SourceCreatedAt: m.SourceCreatedAt,
		SourceUpdatedAt: m.SourceUpdatedAt,
	}
}

// ProductModel is the persistence model for a synced product
type ProductModel struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_products_tenant_external,priority:1"`
	StoreID             uuid.UUID       `gorm:"type:uuid;not null;index:idx_products_store"`
	ExternalID          int64           `gorm:"not null;uniqueIndex:idx_products_tenant_external,priority:2"`
	Title               string          `gorm:"type:varchar(500)"`
	BodyHTML            string          `gorm:"type:text"`
	Vendor              string          `gorm:"type:varchar(255)"`
	ProductType         string          `gorm:"type:varchar(255)"`
	Handle              string          `gorm:"type:varchar(255)"`
	Status              string          `gorm:"type:varchar(20)"`
	PublishedScope      string          `gorm:"type:varchar(20)"`
	Tags                string          `gorm:"type:text"`
	Price               decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	CompareAtPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	InventoryQuantity   int             `gorm:"not null;default:0"`
	InventoryPolicy     string          `gorm:"type:varchar(20)"`
	InventoryManagement string          `gorm:"type:varchar(50)"`
	VariantsJSON        string          `gorm:"type:jsonb;column:variants"`
	OptionsJSON         string          `gorm:"type:jsonb;column:options"`
	ImagesJSON          string          `gorm:"type:jsonb;column:images"`
	ImageJSON           string          `gorm:"type:jsonb;column:image"`
	PublishedAt         *time.Time
	SourceCreatedAt     *time.Time
	SourceUpdatedAt     *time.Time
	SyncedAt            time.Time `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// ProductUpdateColumns are overwritten when a product already exists
var ProductUpdateColumns = []string{
	"store_id", "title", "body_html", "vendor", "product_type", "handle", "status",
	"published_scope", "tags", "price", "compare_at_price", "inventory_quantity",
	"inventory_policy", "inventory_management", "variants", "options", "images", "image",
	"published_at", "source_created_at", "source_updated_at", "synced_at", "updated_at",
}

// ProductModelFromDomain creates a model from a domain product
func ProductModelFromDomain(p *storesync.Product, now time.Time) *ProductModel {
	return &ProductModel{
		ID:                  p.ID,
		TenantID:            p.TenantID,
		StoreID:             p.StoreID,
		ExternalID:          p.ExternalID,
		Title:               p.Title,
		BodyHTML:            p.BodyHTML,
		Vendor:              p.Vendor,
		ProductType:         p.ProductType,
		Handle:              p.Handle,
		Status:              p.Status,
		PublishedScope:      p.PublishedScope,
		Tags:                p.Tags,
		Price:               p.Price,
		CompareAtPrice:      p.CompareAtPrice,
		InventoryQuantity:   p.InventoryQuantity,
		InventoryPolicy:     p.InventoryPolicy,
		InventoryManagement: p.InventoryManagement,
		VariantsJSON:        jsonText(p.Variants, "[]"),
		OptionsJSON:         jsonText(p.Options, "[]"),
		ImagesJSON:          jsonText(p.Images, "[]"),
		ImageJSON:           jsonText(p.Image, "null"),
		PublishedAt:         p.PublishedAt,
		SourceCreatedAt:     p.SourceCreatedAt,
		SourceUpdatedAt:     p.SourceUpdatedAt,
		SyncedAt:            now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// OrderModel is the persistence model for a synced order
type OrderModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_orders_tenant_external,priority:1"`
	StoreID            uuid.UUID       `gorm:"type:uuid;not null;index:idx_orders_store"`
	ExternalID         int64           `gorm:"not null;uniqueIndex:idx_orders_tenant_external,priority:2"`
	OrderNumber        int             `gorm:"not null;default:0"`
	Name               string          `gorm:"type:varchar(50)"`
	Email              string          `gorm:"type:varchar(255)"`
	Phone              string          `gorm:"type:varchar(50)"`
	CustomerExternalID *int64          `gorm:"index:idx_orders_customer"`
	FinancialStatus    string          `gorm:"type:varchar(30)"`
	FulfillmentStatus  string          `gorm:"type:varchar(30)"`
	Currency           string          `gorm:"type:varchar(3)"`
	TotalPrice         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	SubtotalPrice      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalTax           decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalDiscounts     decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalWeight        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxesIncluded      bool            `gorm:"not null;default:false"`
	Confirmed          bool            `gorm:"not null;default:false"`
	Test               bool            `gorm:"not null;default:false"`
	Gateway            string          `gorm:"type:varchar(100)"`
	SourceName         string          `gorm:"type:varchar(100)"`
	LandingSite        string          `gorm:"type:text"`
	ReferringSite      string          `gorm:"type:text"`
	Note               string          `gorm:"type:text"`
	Tags               string          `gorm:"type:text"`
	BillingAddrJSON    string          `gorm:"type:jsonb;column:billing_address"`
	ShippingAddrJSON   string          `gorm:"type:jsonb;column:shipping_address"`
	TaxLinesJSON       string          `gorm:"type:jsonb;column:tax_lines"`
	DiscountCodesJSON  string          `gorm:"type:jsonb;column:discount_codes"`
	ProcessedAt        *time.Time
	CancelledAt        *time.Time
	SourceCreatedAt    *time.Time `gorm:"index:idx_orders_source_created"`
	SourceUpdatedAt    *time.Time
	SyncedAt           time.Time `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// OrderUpdateColumns are overwritten when an order already exists
var OrderUpdateColumns = []string{
	"store_id", "order_number", "name", "email", "phone", "customer_external_id",
	"financial_status", "fulfillment_status", "currency", "total_price", "subtotal_price",
	"total_tax", "total_discounts", "total_weight", "taxes_included", "confirmed", "test",
	"gateway", "source_name", "landing_site", "referring_site", "note", "tags",
	"billing_address", "shipping_address", "tax_lines", "discount_codes", "processed_at",
	"cancelled_at", "source_created_at", "source_updated_at", "synced_at", "updated_at",
}

// OrderModelFromDomain creates a model from a domain order. Line items are
// converted separately.
func OrderModelFromDomain(o *storesync.Order, now time.Time) *OrderModel {
	return &OrderModel{
		ID:                 o.ID,
		TenantID:           o.TenantID,
		StoreID:            o.StoreID,
		ExternalID:         o.ExternalID,
		OrderNumber:        o.OrderNumber,
		Name:               o.Name,
		Email:              o.Email,
		Phone:              o.Phone,
		CustomerExternalID: o.CustomerExternalID,
		FinancialStatus:    o.FinancialStatus,
		FulfillmentStatus:  o.FulfillmentStatus,
		Currency:           o.Currency,
		TotalPrice:         o.TotalPrice,
		SubtotalPrice:      o.SubtotalPrice,
		TotalTax:           o.TotalTax,
		TotalDiscounts:     o.TotalDiscounts,
		TotalWeight:        o.TotalWeight,
		TaxesIncluded:      o.TaxesIncluded,
		Confirmed:          o.Confirmed,
		Test:               o.Test,
		Gateway:            o.Gateway,
		SourceName:         o.SourceName,
		LandingSite:        o.LandingSite,
		ReferringSite:      o.ReferringSite,
		Note:               o.Note,
		Tags:               o.Tags,
		BillingAddrJSON:    jsonText(o.BillingAddress, "null"),
		ShippingAddrJSON:   jsonText(o.ShippingAddress, "null"),
		TaxLinesJSON:       jsonText(o.TaxLines, "[]"),
		DiscountCodesJSON:  jsonText(o.DiscountCodes, "[]"),
		ProcessedAt:        o.ProcessedAt,
		CancelledAt:        o.CancelledAt,
		SourceCreatedAt:    o.SourceCreatedAt,
		SourceUpdatedAt:    o.SourceUpdatedAt,
		SyncedAt:           now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// LineItemModel is the persistence model for an order line item
type LineItemModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID           uuid.UUID       `gorm:"type:uuid;not null;index:idx_line_items_tenant"`
	StoreID            uuid.UUID       `gorm:"type:uuid;not null"`
	OrderID            uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_line_items_order_external,priority:1"`
	ExternalID         int64           `gorm:"not null;uniqueIndex:idx_line_items_order_external,priority:2"`
	ProductExternalID  *int64          `gorm:"index:idx_line_items_product"`
	VariantExternalID  *int64
	Title              string          `gorm:"type:varchar(500)"`
	Name               string          `gorm:"type:varchar(500)"`
	VariantTitle       string          `gorm:"type:varchar(255)"`
	Vendor             string          `gorm:"type:varchar(255)"`
	ProductType        string          `gorm:"type:varchar(255)"`
	SKU                string          `gorm:"type:varchar(255);column:sku"`
	Quantity           int             `gorm:"not null;default:0"`
	Price              decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalDiscount      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Grams              int             `gorm:"not null;default:0"`
	Taxable            bool            `gorm:"not null;default:false"`
	RequiresShipping   bool            `gorm:"not null;default:false"`
	FulfillmentStatus  string          `gorm:"type:varchar(30)"`
	FulfillmentService string          `gorm:"type:varchar(100)"`
	PropertiesJSON     string          `gorm:"type:jsonb;column:properties"`
	TaxLinesJSON       string          `gorm:"type:jsonb;column:tax_lines"`
	CreatedAt          time.Time       `gorm:"not null"`
	UpdatedAt          time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (LineItemModel) TableName() string {
	return "order_line_items"
}

// LineItemUpdateColumns are overwritten when a line item already exists
var LineItemUpdateColumns = []string{
	"product_external_id", "variant_external_id", "title", "name", "variant_title",
	"vendor", "product_type", "sku", "quantity", "price", "total_discount", "grams",
	"taxable", "requires_shipping", "fulfillment_status", "fulfillment_service",
	"properties", "tax_lines", "updated_at",
}

// LineItemModelFromDomain creates a model from a domain line item
func LineItemModelFromDomain(li *storesync.LineItem, now time.Time) *LineItemModel {
	return &LineItemModel{
		ID:                 li.ID,
		TenantID:           li.TenantID,
		StoreID:            li.StoreID,
		OrderID:            li.OrderID,
		ExternalID:         li.ExternalID,
		ProductExternalID:  li.ProductExternalID,
		VariantExternalID:  li.VariantExternalID,
		Title:              li.Title,
		Name:               li.Name,
		VariantTitle:       li.VariantTitle,
		Vendor:             li.Vendor,
		ProductType:        li.ProductType,
		SKU:                li.SKU,
		Quantity:           li.Quantity,
		Price:              li.Price,
		TotalDiscount:      li.TotalDiscount,
		Grams:              li.Grams,
		Taxable:            li.Taxable,
		RequiresShipping:   li.RequiresShipping,
		FulfillmentStatus:  li.FulfillmentStatus,
		FulfillmentService: li.FulfillmentService,
		PropertiesJSON:     jsonText(li.Properties, "[]"),
		TaxLinesJSON:       jsonText(li.TaxLines, "[]"),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func jsonText(doc json.RawMessage, fallback string) string {
	if len(doc) == 0 {
		return fallback
	}
	return string(doc)
}

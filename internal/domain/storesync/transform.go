package storesync

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransformCustomer maps a remote customer to a local record with a new id
func TransformCustomer(raw *RemoteCustomer, tenantID, storeID uuid.UUID) (*Customer, error) {
	if raw == nil || raw.ID == 0 {
		return nil, fmt.Errorf("%w: customer has no id", ErrInvalidRecord)
	}
	totalSpent, err := parseAmount("total_spent", raw.TotalSpent)
	if err != nil {
		return nil, err
	}

	return &Customer{
		ID:              uuid.New(),
		TenantID:        tenantID,
		StoreID:         storeID,
		ExternalID:      raw.ID,
		FirstName:       raw.FirstName,
		LastName:        raw.LastName,
		Email:           raw.Email,
		Phone:           raw.Phone,
		State:           raw.State,
		TotalSpent:      totalSpent,
		OrdersCount:     raw.OrdersCount,
		LastOrderID:     raw.LastOrderID,
		LastOrderName:   raw.LastOrderName,
		Note:            raw.Note,
		VerifiedEmail:   raw.VerifiedEmail,
		TaxExempt:       raw.TaxExempt,
		Tags:            raw.Tags,
		Currency:        raw.Currency,
		Addresses:       document(raw.Addresses, "[]"),
		DefaultAddress:  document(raw.DefaultAddress, "null"),
		SourceCreatedAt: raw.CreatedAt,
		SourceUpdatedAt: raw.UpdatedAt,
	}, nil
}

// TransformProduct maps a remote product to a local record with a new id.
// Price and inventory fields are taken from the first variant.
func TransformProduct(raw *RemoteProduct, tenantID, storeID uuid.UUID) (*Product, error) {
	if raw == nil || raw.ID == 0 {
		return nil, fmt.Errorf("%w: product has no id", ErrInvalidRecord)
	}

	p := &Product{
		ID:              uuid.New(),
		TenantID:        tenantID,
		StoreID:         storeID,
		ExternalID:      raw.ID,
		Title:           raw.Title,
		BodyHTML:        raw.BodyHTML,
		Vendor:          raw.Vendor,
		ProductType:     raw.ProductType,
		Handle:          raw.Handle,
		Status:          raw.Status,
		PublishedScope:  raw.PublishedScope,
		Tags:            raw.Tags,
		Price:           decimal.Zero,
		CompareAtPrice:  decimal.Zero,
		Options:         document(raw.Options, "[]"),
		Images:          document(raw.Images, "[]"),
		Image:           document(raw.Image, "null"),
		PublishedAt:     raw.PublishedAt,
		SourceCreatedAt: raw.CreatedAt,
		SourceUpdatedAt: raw.UpdatedAt,
	}

	variants := raw.Variants
	if variants == nil {
		variants = []RemoteVariant{}
	}
	packed, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("%w: variants: %v", ErrInvalidRecord, err)
	}
	p.Variants = packed

	if len(variants) > 0 {
		first := variants[0]
		if p.Price, err = parseAmount("variants[0].price", first.Price); err != nil {
			return nil, err
		}
		if p.CompareAtPrice, err = parseAmount("variants[0].compare_at_price", first.CompareAtPrice); err != nil {
			return nil, err
		}
		p.InventoryQuantity = first.InventoryQuantity
		p.InventoryPolicy = first.InventoryPolicy
		p.InventoryManagement = first.InventoryManagement
	}

	return p, nil
}

// TransformOrder maps a remote order to a local record with a new id.
// Line items are transformed too and attached to the returned order.
func TransformOrder(raw *RemoteOrder, tenantID, storeID uuid.UUID) (*Order, error) {
	if raw == nil || raw.ID == 0 {
		return nil, fmt.Errorf("%w: order has no id", ErrInvalidRecord)
	}

	o := &Order{
		ID:                uuid.New(),
		TenantID:          tenantID,
		StoreID:           storeID,
		ExternalID:        raw.ID,
		OrderNumber:       raw.OrderNumber,
		Name:              raw.Name,
		Email:             raw.Email,
		Phone:             raw.Phone,
		FinancialStatus:   raw.FinancialStatus,
		FulfillmentStatus: raw.FulfillmentStatus,
		Currency:          raw.Currency,
		TaxesIncluded:     raw.TaxesIncluded,
		Confirmed:         raw.Confirmed,
		Test:              raw.Test,
		Gateway:           raw.Gateway,
		SourceName:        raw.SourceName,
		LandingSite:       raw.LandingSite,
		ReferringSite:     raw.ReferringSite,
		Note:              raw.Note,
		Tags:              raw.Tags,
		BillingAddress:    document(raw.BillingAddress, "null"),
		ShippingAddress:   document(raw.ShippingAddress, "null"),
		TaxLines:          document(raw.TaxLines, "[]"),
		DiscountCodes:     document(raw.DiscountCodes, "[]"),
		ProcessedAt:       raw.ProcessedAt,
		CancelledAt:       raw.CancelledAt,
		SourceCreatedAt:   raw.CreatedAt,
		SourceUpdatedAt:   raw.UpdatedAt,
	}
	if raw.Customer != nil && raw.Customer.ID != 0 {
		id := raw.Customer.ID
		o.CustomerExternalID = &id
	}

	amounts := []amountField{
		{"total_price", raw.TotalPrice, &o.TotalPrice},
		{"subtotal_price", raw.SubtotalPrice, &o.SubtotalPrice},
		{"total_tax", raw.TotalTax, &o.TotalTax},
		{"total_discounts", raw.TotalDiscounts, &o.TotalDiscounts},
		{"total_weight", raw.TotalWeight, &o.TotalWeight},
	}
	for _, a := range amounts {
		v, err := parseAmount(a.field, a.value)
		if err != nil {
			return nil, err
		}
		*a.dst = v
	}

	o.LineItems = make([]LineItem, 0, len(raw.LineItems))
	for i := range raw.LineItems {
		item, err := TransformLineItem(&raw.LineItems[i], tenantID, storeID)
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", raw.LineItems[i].ID, err)
		}
		o.LineItems = append(o.LineItems, *item)
	}

	return o, nil
}

// TransformLineItem maps a remote order line to a local record with a new id.
// OrderID is left empty; the gateway assigns it from the persisted order.
func TransformLineItem(raw *RemoteLineItem, tenantID, storeID uuid.UUID) (*LineItem, error) {
	if raw == nil || raw.ID == 0 {
		return nil, fmt.Errorf("%w: line item has no id", ErrInvalidRecord)
	}
	price, err := parseAmount("price", raw.Price)
	if err != nil {
		return nil, err
	}
	discount, err := parseAmount("total_discount", raw.TotalDiscount)
	if err != nil {
		return nil, err
	}

	return &LineItem{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		StoreID:            storeID,
		ExternalID:         raw.ID,
		ProductExternalID:  raw.ProductID,
		VariantExternalID:  raw.VariantID,
		Title:              raw.Title,
		Name:               raw.Name,
		VariantTitle:       raw.VariantTitle,
		Vendor:             raw.Vendor,
		ProductType:        raw.ProductType,
		SKU:                raw.SKU,
		Quantity:           raw.Quantity,
		Price:              price,
		TotalDiscount:      discount,
		Grams:              raw.Grams,
		Taxable:            raw.Taxable,
		RequiresShipping:   raw.RequiresShipping,
		FulfillmentStatus:  raw.FulfillmentStatus,
		FulfillmentService: raw.FulfillmentService,
		Properties:         document(raw.Properties, "[]"),
		TaxLines:           document(raw.TaxLines, "[]"),
	}, nil
}

type amountField struct {
	field string
	value Amount
	dst   *decimal.Decimal
}

// parseAmount converts an API amount to a decimal; empty means zero
func parseAmount(field string, a Amount) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s %q is not a number", ErrInvalidRecord, field, s)
	}
	return d, nil
}

// document returns raw as a sub-document, or fallback when it is absent
func document(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}

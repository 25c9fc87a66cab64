// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain types so the domain stays free of ORM
// concerns; each model converts to and from its domain counterpart.
//
// Files:
// - store.go: connected shops (access token held encrypted)
// - records.go: synced customers, products, orders and order line items
// - sync_run.go: history of finished sync jobs
package models

package storesync

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ShopDomainSuffix is the hosted domain suffix of every shop.
const ShopDomainSuffix = ".myshopify.com"

// ---------------------------------------------------------------------------
// ConnectionState
// ---------------------------------------------------------------------------

// ConnectionState is the connection status of a store
type ConnectionState string

const (
	ConnectionStateConnected    ConnectionState = "connected"
	ConnectionStateDisconnected ConnectionState = "disconnected"
	ConnectionStateError        ConnectionState = "error"
	ConnectionStatePending      ConnectionState = "pending"
)

// IsValid returns true if the state is known
func (s ConnectionState) IsValid() bool {
	switch s {
	case ConnectionStateConnected, ConnectionStateDisconnected, ConnectionStateError, ConnectionStatePending:
		return true
	}
	return false
}

// String returns the string representation
func (s ConnectionState) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// SyncFrequency
// ---------------------------------------------------------------------------

// SyncFrequency controls how often the scheduler syncs a store automatically
type SyncFrequency string

const (
	SyncFrequencyHourly       SyncFrequency = "hourly"
	SyncFrequencyEvery4Hours  SyncFrequency = "every_4_hours"
	SyncFrequencyEvery12Hours SyncFrequency = "every_12_hours"
	SyncFrequencyDaily        SyncFrequency = "daily"
	SyncFrequencyWeekly       SyncFrequency = "weekly"
	SyncFrequencyManual       SyncFrequency = "manual"
)

var frequencyIntervals = map[SyncFrequency]time.Duration{
	SyncFrequencyHourly:       time.Hour,
	SyncFrequencyEvery4Hours:  4 * time.Hour,
	SyncFrequencyEvery12Hours: 12 * time.Hour,
	SyncFrequencyDaily:        24 * time.Hour,
	SyncFrequencyWeekly:       168 * time.Hour,
}

// IsValid returns true if the frequency is known
func (f SyncFrequency) IsValid() bool {
	if f == SyncFrequencyManual {
		return true
	}
	_, ok := frequencyIntervals[f]
	return ok
}

// Interval returns the minimum time between automatic syncs.
// The second result is false for manual (never synced automatically) and unknown values.
func (f SyncFrequency) Interval() (time.Duration, bool) {
	d, ok := frequencyIntervals[f]
	return d, ok
}

// String returns the string representation
func (f SyncFrequency) String() string {
	return string(f)
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Connection carries what the store API needs to authenticate a call
type Connection struct {
	Domain      string
	AccessToken string
}

// Store is one connected external shop belonging to a tenant
type Store struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Domain          string
	Name            string
	ExternalShopID  int64
	Currency        string
	Timezone        string
	AccessToken     string
	ConnectionState ConnectionState
	SyncFrequency   SyncFrequency
	LastSyncAt      *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewStore creates a pending store for the tenant. The store becomes connected
// once its credential has been verified.
func NewStore(tenantID uuid.UUID, domain, accessToken string, frequency SyncFrequency) (*Store, error) {
	normalized, err := NormalizeDomain(domain)
	if err != nil {
		return nil, err
	}
	if frequency == "" {
		frequency = SyncFrequencyDaily
	}
	if !frequency.IsValid() {
		return nil, ErrInvalidFrequency
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingCredential
	}

	now := time.Now().UTC()
	return &Store{
		ID:              uuid.New(),
		TenantID:        tenantID,
		Domain:          normalized,
		AccessToken:     accessToken,
		ConnectionState: ConnectionStatePending,
		SyncFrequency:   frequency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// CanSync returns nil when a sync may be started for this store
func (s *Store) CanSync() error {
	if s.ConnectionState != ConnectionStateConnected {
		return ErrStoreNotConnected
	}
	if s.AccessToken == "" {
		return ErrMissingCredential
	}
	return nil
}

// Connection returns the credentials used to call the store API
func (s *Store) Connection() Connection {
	return Connection{Domain: s.Domain, AccessToken: s.AccessToken}
}

// MarkConnected applies verified shop details and marks the store connected
func (s *Store) MarkConnected(info *ShopInfo) {
	if info != nil {
		s.Name = info.Name
		s.ExternalShopID = info.ID
		s.Currency = info.Currency
		s.Timezone = info.Timezone
	}
	s.ConnectionState = ConnectionStateConnected
	s.LastError = ""
	s.UpdatedAt = time.Now().UTC()
}

// Disconnect drops the credential. A disconnected store is never synced.
func (s *Store) Disconnect() {
	s.AccessToken = ""
	s.ConnectionState = ConnectionStateDisconnected
	s.UpdatedAt = time.Now().UTC()
}

// IsDue reports whether the scheduler should sync the store at now.
// A store that has never been synced is due immediately.
func (s *Store) IsDue(now time.Time) bool {
	if s.ConnectionState != ConnectionStateConnected {
		return false
	}
	interval, ok := s.SyncFrequency.Interval()
	if !ok {
		return false
	}
	if s.LastSyncAt == nil {
		return true
	}
	return now.Sub(*s.LastSyncAt) >= interval
}

// NormalizeDomain lowercases a shop domain, strips scheme and path, and makes
// sure it carries the hosted suffix.
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	name := strings.TrimSuffix(d, ShopDomainSuffix)
	if name == "" || strings.ContainsAny(name, " .:?#@") {
		return "", ErrInvalidDomain
	}
	return name + ShopDomainSuffix, nil
}

// ShopName returns the shop handle, the domain without the hosted suffix
func ShopName(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimSuffix(d, "/")
	return strings.TrimSuffix(d, ShopDomainSuffix)
}

// ShopInfo describes a shop as reported by the store API
type ShopInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Domain   string `json:"domain"`
	Currency string `json:"currency"`
	Timezone string `json:"iana_timezone"`
	PlanName string `json:"plan_name"`
}

// ResourceCounts holds record totals reported by the store API
type ResourceCounts struct {
	Customers int64 `json:"customers"`
	Products  int64 `json:"products"`
	Orders    int64 `json:"orders"`
}

package storesync

import (
	"time"
)

// StatisticsPeriod is the look-back window of sync statistics
type StatisticsPeriod string

const (
	Period7Days  StatisticsPeriod = "7d"
	Period30Days StatisticsPeriod = "30d"
	Period90Days StatisticsPeriod = "90d"

	DefaultStatisticsPeriod = Period30Days
)

// ParseStatisticsPeriod validates a period; empty means the default
func ParseStatisticsPeriod(s string) (StatisticsPeriod, error) {
	switch p := StatisticsPeriod(s); p {
	case "":
		return DefaultStatisticsPeriod, nil
	case Period7Days, Period30Days, Period90Days:
		return p, nil
	}
	return "", ErrInvalidPeriod
}

// Since returns the start of the period ending at now
func (p StatisticsPeriod) Since(now time.Time) time.Time {
	switch p {
	case Period7Days:
		return now.AddDate(0, 0, -7)
	case Period90Days:
		return now.AddDate(0, 0, -90)
	default:
		return now.AddDate(0, 0, -30)
	}
}

// SyncStatistics are record counts for a tenant, optionally for one store.
// Orders and customers count records created within the period; products
// count the whole catalog.
type SyncStatistics struct {
	Period       StatisticsPeriod `json:"period"`
	Since        time.Time        `json:"since"`
	Orders       int64            `json:"orders"`
	Customers    int64            `json:"customers"`
	Products     int64            `json:"products"`
	LastSyncDate *time.Time       `json:"last_sync_date,omitempty"`
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/storesync/backend/internal/domain/storesync"
)

// SyncRunModel is one finished sync job in the history table
type SyncRunModel struct {
	ID             uuid.UUID               `gorm:"type:uuid;primary_key"`
	TenantID       uuid.UUID               `gorm:"type:uuid;not null;index:idx_sync_runs_tenant"`
	StoreID        uuid.UUID               `gorm:"type:uuid;not null;index:idx_sync_runs_store_started,priority:1"`
	SyncType       storesync.SyncType      `gorm:"type:varchar(20);not null"`
	TriggerSource  storesync.TriggerSource `gorm:"type:varchar(20);not null"`
	Status         storesync.JobStatus     `gorm:"type:varchar(20);not null;index:idx_sync_runs_status"`
	SinceDate      *time.Time
	StartedAt      time.Time `gorm:"not null;index:idx_sync_runs_store_started,priority:2"`
	CompletedAt    *time.Time
	Progress       int    `gorm:"not null;default:0"`
	TotalItems     int    `gorm:"not null;default:0"`
	ProcessedItems int    `gorm:"not null;default:0"`
	SourceErrors   int    `gorm:"not null;default:0"`
	ErrorsJSON     string `gorm:"type:jsonb;column:errors"`
	ResultsJSON    string `gorm:"type:jsonb;column:results"`
	CreatedAt      time.Time
}

// TableName returns the table name for GORM
func (SyncRunModel) TableName() string {
	return "sync_runs"
}

// SyncRunModelFromDomain creates a history row from a terminal job
func SyncRunModelFromDomain(j *storesync.SyncJob) *SyncRunModel {
	m := &SyncRunModel{
		ID:             j.ID,
		TenantID:       j.TenantID,
		StoreID:        j.StoreID,
		SyncType:       j.Type,
		TriggerSource:  j.Source,
		Status:         j.Status,
		SinceDate:      j.SinceDate,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		Progress:       j.Progress,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		SourceErrors:   j.SourceErrors,
		ErrorsJSON:     "[]",
		ResultsJSON:    "{}",
	}
	if len(j.Errors) > 0 {
		if b, err := json.Marshal(j.Errors); err == nil {
			m.ErrorsJSON = string(b)
		}
	}
	if b, err := json.Marshal(j.Results); err == nil {
		m.ResultsJSON = string(b)
	}
	return m
}

// ToDomain converts the history row back to a job snapshot
func (m *SyncRunModel) ToDomain() *storesync.SyncJob {
	j := &storesync.SyncJob{
		ID:             m.ID,
		TenantID:       m.TenantID,
		StoreID:        m.StoreID,
		Type:           m.SyncType,
		Source:         m.TriggerSource,
		Status:         m.Status,
		SinceDate:      m.SinceDate,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		Progress:       m.Progress,
		TotalItems:     m.TotalItems,
		ProcessedItems: m.ProcessedItems,
		SourceErrors:   m.SourceErrors,
		Errors:         make([]string, 0),
	}
	if m.ErrorsJSON != "" {
		_ = json.Unmarshal([]byte(m.ErrorsJSON), &j.Errors)
	}
	if m.ResultsJSON != "" {
		_ = json.Unmarshal([]byte(m.ResultsJSON), &j.Results)
	}
	return j
}

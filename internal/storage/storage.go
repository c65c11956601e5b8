package storage

import (
	"context"

	"github.com/superset-studio/cloudchain/internal/models"
)

// RecordStore persists sealed credential records keyed by (service, username).
type RecordStore interface {
	// PutRecord writes rec, replacing any record with the same key.
	PutRecord(ctx context.Context, rec *models.Record) error
	// GetRecord returns (nil, nil) when no record exists for the key.
	GetRecord(ctx context.Context, service, username string) (*models.Record, error)
	ScanRecords(ctx context.Context) ([]*models.Record, error)
}

// SnapshotWriter receives a full copy of the sealed records.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, records []*models.Record) error
}

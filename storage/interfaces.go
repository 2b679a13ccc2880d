package storage

import (
	"context"
	"errors"
	"time"

	"merchant/models"
)

var (
	// ErrAlreadyInitialized is returned by Initialize when schema objects
	// already exist.
	ErrAlreadyInitialized = errors.New("store already initialized")
	// ErrNotInitialized is returned when the schema has not been created.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// ListingUpserter is the write path of ingestion.
type ListingUpserter interface {
	Upsert(ctx context.Context, records []*models.RawListing, observedAt time.Time) (models.UpsertResult, error)
}

// RunRecorder persists ingestion run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *models.RunSummary) error
}

// ItemStore is the taxonomy surface used by the classifier.
type ItemStore interface {
	Items(ctx context.Context) ([]models.Item, error)
	InsertItems(ctx context.Context, names []string) (int, error)
}

// LinkStore is the surface the linker reads and writes.
type LinkStore interface {
	Items(ctx context.Context) ([]models.Item, error)
	ListingTitles(ctx context.Context) ([]models.TitleRef, error)
	SentinelIDs(ctx context.Context) (noGroup, multiGroup int64, err error)
	AssignItems(ctx context.Context, assignments map[int64]int64) (int, error)
}

// PriceReader is the read contract of the analytics stage.
type PriceReader interface {
	PriceObservations(ctx context.Context, category, item string, minPrice int) ([]models.PricePoint, error)
}

// RawListingWriter persists unprocessed scraped records.
type RawListingWriter interface {
	WriteRaw(listings []*models.RawListing, observedAt time.Time) error
	Close() error
}

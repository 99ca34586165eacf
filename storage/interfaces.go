package storage

import (
	"context"

	"imovirtual-scraper/models"
)

// ListingStore is the interface any listing persistence backend must satisfy.
type ListingStore interface {
	UpsertBatch(ctx context.Context, listings []models.Listing) error
	FetchAll(ctx context.Context) ([]models.Listing, error)
	Close() error
}

// ProgressStore durably tracks the page cursor across process restarts.
type ProgressStore interface {
	Load() (*models.PageCursor, error)
	Save(cursor *models.PageCursor) error
	Reset() error
}

// RawListingWriter is the interface for mirroring unprocessed scraped rows.
type RawListingWriter interface {
	WriteRaw(listings []models.Listing) error
	Close() error
}

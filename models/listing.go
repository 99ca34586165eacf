package models

import "time"

// Listing is one scraped property, as persisted in PostgreSQL.
// Optional fields are pointers: nil means the source did not provide the
// value (or it was unparseable), which is distinct from zero.
type Listing struct {
	ID          int64
	Title       string
	Price       *int // euros
	RawLocation string
	Distrito    *string
	Concelho    *string
	Freguesia   *string
	AreaM2      *float64
	RoomCount   *int // T0=0 … T4+=4
	URL         string
	ScrapedAt   time.Time
}

// SearchTask is one search URL to paginate through, typically one per
// freguesia, with the geographic hierarchy already resolved from the URL.
type SearchTask struct {
	URL       string
	Distrito  string
	Concelho  string
	Freguesia string
}

// PageCursor marks the last fully processed page. It is saved only after
// every listing on that page has been durably upserted, so resuming from it
// can at worst re-fetch one already-persisted page.
type PageCursor struct {
	SessionID  string `json:"session_id"`
	TaskIndex  int    `json:"task_index"`
	Page       int    `json:"page"`
	TaskURL    string `json:"task_url"`
	LineNumber int    `json:"line_number"` // 1-indexed line in the task file
}

// MarketReport holds the computed analytics over the stored dataset.
type MarketReport struct {
	TotalListings      int
	PricedListings     int
	AveragePrice       float64
	MinPrice           int
	MaxPrice           int
	AvgPricePerM2      float64
	MostExpensive      *Listing
	ListingsByDistrito map[string]int
}

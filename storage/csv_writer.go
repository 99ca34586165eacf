package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"imovirtual-scraper/models"
)

// CSVWriter mirrors parsed listings to a CSV file, one batch per page,
// before they reach the database. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file: %w", err)
	}

	w := csv.NewWriter(f)
	header := []string{
		"title", "price", "raw_location", "distrito", "concelho", "freguesia",
		"area_m2", "room_count", "url", "scraped_at",
	}
	if err := w.Write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends one batch of listings and flushes to disk.
func (c *CSVWriter) WriteRaw(listings []models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		record := []string{
			l.Title,
			intField(l.Price),
			l.RawLocation,
			strField(l.Distrito),
			strField(l.Concelho),
			strField(l.Freguesia),
			floatField(l.AreaM2),
			intField(l.RoomCount),
			l.URL,
			l.ScrapedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(record); err != nil {
			return fmt.Errorf("csv: write record: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes pending rows and closes the file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		c.file.Close()
		return err
	}
	return c.file.Close()
}

func strField(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intField(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func floatField(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"merchant/models"
)

var rawCSVHeader = []string{
	"observed_at", "cid", "category", "area", "title", "price", "location", "posted_at", "url",
}

// CSVWriter appends raw scraped records to a CSV file, one line per
// observation. It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens (or creates) the CSV file at path for appending and
// writes the header row when the file is new. Intermediate directories are
// created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(rawCSVHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends every record observed at observedAt.
func (c *CSVWriter) WriteRaw(listings []*models.RawListing, observedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		postedAt := ""
		if !l.PostedAt.IsZero() {
			postedAt = l.PostedAt.Format(time.RFC3339)
		}
		row := []string{
			observedAt.Format(time.RFC3339),
			strconv.FormatInt(l.CID, 10),
			l.Category,
			l.Area,
			l.Title,
			strconv.Itoa(l.Price),
			l.Location,
			postedAt,
			l.URL,
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	return c.file.Close()
}

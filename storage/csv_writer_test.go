package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"merchant/models"
)

func TestCSVWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "raw.csv")
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &models.RawListing{CID: 42, Title: "bike, blue", Price: 50, Category: "bicycles", URL: "https://x/42.html"}

	for i := 0; i < 2; i++ {
		w, err := NewCSVWriter(path)
		if err != nil {
			t.Fatalf("NewCSVWriter: %v", err)
		}
		if err := w.WriteRaw([]*models.RawListing{rec}, at); err != nil {
			t.Fatalf("WriteRaw: %v", err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	// One header, then one line per write.
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(rows))
	}
	if rows[0][0] != "observed_at" {
		t.Errorf("header: got %v", rows[0])
	}
	if rows[1][1] != "42" || rows[1][4] != "bike, blue" || rows[1][5] != "50" {
		t.Errorf("row: got %v", rows[1])
	}
	if rows[1][7] != "" {
		t.Errorf("zero posted_at should be empty, got %q", rows[1][7])
	}
}

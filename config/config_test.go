package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleCodes = `
version: 1
categories:
  - name: bicycles
    path: /search/bia
  - name: furniture
    path: search/fua
`

func TestParseCategoryCodes(t *testing.T) {
	cc, err := ParseCategoryCodes([]byte(sampleCodes))
	if err != nil {
		t.Fatalf("ParseCategoryCodes: %v", err)
	}

	names := cc.Names()
	if len(names) != 2 || names[0] != "bicycles" || names[1] != "furniture" {
		t.Errorf("Names: got %v, want [bicycles furniture]", names)
	}

	path, err := cc.Path("furniture")
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if path != "/search/fua" {
		t.Errorf("Path(furniture): got %q, want %q", path, "/search/fua")
	}
}

func TestCategoryCodesUnknown(t *testing.T) {
	cc, err := ParseCategoryCodes([]byte(sampleCodes))
	if err != nil {
		t.Fatalf("ParseCategoryCodes: %v", err)
	}
	if _, err := cc.Path("boats"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("Path(boats): got %v, want ErrUnknownCategory", err)
	}
}

func TestParseCategoryCodesRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"wrong version", "version: 2\ncategories:\n  - {name: a, path: /a}\n", "unsupported version"},
		{"missing version", "categories:\n  - {name: a, path: /a}\n", "unsupported version"},
		{"empty", "version: 1\n", "no categories"},
		{"no path", "version: 1\ncategories:\n  - {name: a}\n", "has no path"},
		{"no name", "version: 1\ncategories:\n  - {path: /a}\n", "has no name"},
		{"duplicate", "version: 1\ncategories:\n  - {name: a, path: /a}\n  - {name: a, path: /b}\n", "duplicate"},
		{"unknown field", "version: 1\nextra: true\ncategories:\n  - {name: a, path: /a}\n", "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCategoryCodes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadCategoryCodesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "categories.yaml")
	if err := os.WriteFile(path, []byte(sampleCodes), 0o644); err != nil {
		t.Fatal(err)
	}
	cc, err := LoadCategoryCodes(path)
	if err != nil {
		t.Fatalf("LoadCategoryCodes: %v", err)
	}
	if len(cc.Categories) != 2 {
		t.Errorf("categories: got %d, want 2", len(cc.Categories))
	}

	if _, err := LoadCategoryCodes(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MERCHANT_BASE_URL", "https://austin.craigslist.org/")
	t.Setenv("MERCHANT_AREA", "")
	t.Setenv("SCRAPE_CATEGORIES", " bicycles, ,furniture ")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MAX_CONCURRENCY", "not-a-number")

	cfg := Load()
	if cfg.BaseURL != "https://austin.craigslist.org" {
		t.Errorf("BaseURL: got %q", cfg.BaseURL)
	}
	if cfg.Area != "austin" {
		t.Errorf("Area: got %q, want austin", cfg.Area)
	}
	if len(cfg.ScrapeCategories) != 2 || cfg.ScrapeCategories[1] != "furniture" {
		t.Errorf("ScrapeCategories: got %v", cfg.ScrapeCategories)
	}
	if cfg.MaxConcurrency != 3 {
		t.Errorf("MaxConcurrency: got %d, want default 3", cfg.MaxConcurrency)
	}
	if !strings.HasPrefix(cfg.DSN(), "host=") {
		t.Errorf("DSN: got %q, want key/value form", cfg.DSN())
	}
}

func TestDSNPrefersDatabaseURL(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://u:p@db:5432/merchant", PostgresHost: "ignored"}
	if got := cfg.DSN(); got != "postgres://u:p@db:5432/merchant" {
		t.Errorf("DSN: got %q", got)
	}
}

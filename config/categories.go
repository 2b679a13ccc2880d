package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

// CategoryCodesVersion is the only category map format this build reads.
const CategoryCodesVersion = 1

// ErrUnknownCategory is returned when a category name is not in the map.
var ErrUnknownCategory = errors.New("unknown category")

// CategoryCode maps a human category name onto the site path fragment of
// its search page.
type CategoryCode struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// CategoryCodes is the versioned category map. Order is preserved so that
// category ids are assigned deterministically at initialization.
type CategoryCodes struct {
	Version    int            `yaml:"version"`
	Categories []CategoryCode `yaml:"categories"`

	byName map[string]string
}

// LoadCategoryCodes reads and validates the YAML category map at path.
func LoadCategoryCodes(path string) (*CategoryCodes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("category codes: read %q: %w", path, err)
	}
	return ParseCategoryCodes(data)
}

// ParseCategoryCodes decodes and validates a YAML category map.
func ParseCategoryCodes(data []byte) (*CategoryCodes, error) {
	var cc CategoryCodes
	if err := yaml.UnmarshalStrict(data, &cc); err != nil {
		return nil, fmt.Errorf("category codes: decode: %w", err)
	}
	if cc.Version != CategoryCodesVersion {
		return nil, fmt.Errorf("category codes: unsupported version %d (want %d)", cc.Version, CategoryCodesVersion)
	}
	if len(cc.Categories) == 0 {
		return nil, errors.New("category codes: no categories defined")
	}

	cc.byName = make(map[string]string, len(cc.Categories))
	for i, c := range cc.Categories {
		name := strings.TrimSpace(c.Name)
		path := strings.TrimSpace(c.Path)
		if name == "" {
			return nil, fmt.Errorf("category codes: entry %d has no name", i)
		}
		if path == "" {
			return nil, fmt.Errorf("category codes: %q has no path", name)
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		if _, dup := cc.byName[name]; dup {
			return nil, fmt.Errorf("category codes: duplicate category %q", name)
		}
		cc.Categories[i] = CategoryCode{Name: name, Path: path}
		cc.byName[name] = path
	}
	return &cc, nil
}

// Path returns the search path of category, or ErrUnknownCategory.
func (cc *CategoryCodes) Path(category string) (string, error) {
	path, ok := cc.byName[category]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return path, nil
}

// Names lists the category names in map order.
func (cc *CategoryCodes) Names() []string {
	names := make([]string, len(cc.Categories))
	for i, c := range cc.Categories {
		names[i] = c.Name
	}
	return names
}

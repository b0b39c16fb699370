package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"turismo/internal/domain"
)

// Document is the on-disk layout of a taxonomy file.
type Document struct {
	Towns      []domain.TaxonomyEntry `yaml:"towns"`
	Categories []domain.TaxonomyEntry `yaml:"categories"`
}

var ErrDuplicateID = errors.New("duplicate taxonomy id")

// Decode parses a YAML document and builds both tables.
func Decode(r io.Reader) (Set, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return Set{}, fmt.Errorf("decode taxonomy: %w", err)
	}
	if err := checkIDs("towns", doc.Towns); err != nil {
		return Set{}, err
	}
	if err := checkIDs("categories", doc.Categories); err != nil {
		return Set{}, err
	}
	return Set{Towns: NewTable(doc.Towns), Categories: NewTable(doc.Categories)}, nil
}

// FileSource loads the taxonomy from a YAML file on every call.
type FileSource struct {
	Path string
}

func (f FileSource) Load(ctx context.Context) (Set, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return Set{}, fmt.Errorf("open taxonomy file: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

func checkIDs(table string, entries []domain.TaxonomyEntry) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return fmt.Errorf("%s[%d]: id is required", table, i)
		}
		if seen[e.ID] {
			return fmt.Errorf("%s: %w: %s", table, ErrDuplicateID, e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

// Package seed loads grant catalogues: the embedded starter set and operator
// supplied YAML or JSON files.
package seed

import (
	"bytes"
	"embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/david/grant-enhancer/internal/models"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed data/catalogue.yaml
var catalogueFS embed.FS

// Catalogue is the on-disk layout of a seed file.
type Catalogue struct {
	Grants []*models.Grant `yaml:"grants" json:"grants"`
}

// Default returns the embedded starter catalogue.
func Default() ([]*models.Grant, error) {
	data, err := catalogueFS.ReadFile("data/catalogue.yaml")
	if err != nil {
		return nil, eris.Wrap(err, "seed: read embedded catalogue")
	}
	return Parse(data, "yaml")
}

// LoadFile reads a catalogue from disk. Files ending in .json are decoded as
// JSON, everything else as YAML.
func LoadFile(path string) ([]*models.Grant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: read %s", path)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	grants, err := Parse(data, format)
	if err != nil {
		return nil, eris.Wrapf(err, "seed: %s", path)
	}
	return grants, nil
}

// Parse decodes a catalogue and prepares every grant for the pipeline. A JSON
// catalogue may also be a bare array of grants.
func Parse(data []byte, format string) ([]*models.Grant, error) {
	var cat Catalogue
	switch format {
	case "json":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &cat.Grants); err != nil {
				return nil, eris.Wrap(err, "seed: decode json")
			}
		} else if err := json.Unmarshal(trimmed, &cat); err != nil {
			return nil, eris.Wrap(err, "seed: decode json")
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &cat); err != nil {
			return nil, eris.Wrap(err, "seed: decode yaml")
		}
	default:
		return nil, eris.Errorf("seed: unsupported format %q", format)
	}

	seen := make(map[string]int, len(cat.Grants))
	out := make([]*models.Grant, 0, len(cat.Grants))
	for i, g := range cat.Grants {
		if g == nil {
			continue
		}
		if err := prepare(g); err != nil {
			return nil, eris.Wrapf(err, "seed: entry %d", i)
		}
		if j, dup := seen[g.ID]; dup {
			return nil, eris.Errorf("seed: entry %d reuses id %q of entry %d", i, g.ID, j)
		}
		seen[g.ID] = i
		out = append(out, g)
	}
	return out, nil
}

// prepare normalises a catalogue entry and assigns an id when missing. The
// generated id is derived from title and agency so reseeding is idempotent.
func prepare(g *models.Grant) error {
	g.Normalize()
	if g.Title == "" {
		return eris.New("title is required")
	}
	g.ID = strings.TrimSpace(g.ID)
	if g.ID == "" {
		g.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.ToLower(g.Title+"|"+g.Agency))).String()
	}
	return nil
}

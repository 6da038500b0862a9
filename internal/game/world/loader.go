package world

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlCatalogFile is the top-level YAML structure for the room catalog.
type yamlCatalogFile struct {
	Rooms []yamlRoom `yaml:"rooms"`
}

// yamlRoom is the YAML representation of a room.
type yamlRoom struct {
	ID                     uint64        `yaml:"id"`
	Name                   string        `yaml:"name"`
	Kind                   string        `yaml:"kind"`
	Tick                   time.Duration `yaml:"tick"`
	ScriptDir              string        `yaml:"script_dir"`
	ScriptInstructionLimit int           `yaml:"script_instruction_limit"`
}

// LoadCatalogFromFile reads and validates a catalog YAML file.
//
// Precondition: path must point to a YAML catalog file.
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadCatalogFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading room catalog %s: %w", path, err)
	}
	c, err := LoadCatalogFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// LoadCatalogFromBytes parses and validates a catalog from YAML bytes.
//
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadCatalogFromBytes(data []byte) (*Catalog, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing room catalog YAML: %w", err)
	}

	c := &Catalog{Rooms: make([]RoomSpec, 0, len(file.Rooms))}
	for _, yr := range file.Rooms {
		c.Rooms = append(c.Rooms, RoomSpec{
			ID:                     yr.ID,
			Name:                   yr.Name,
			Kind:                   Kind(yr.Kind),
			Tick:                   yr.Tick,
			ScriptDir:              yr.ScriptDir,
			ScriptInstructionLimit: yr.ScriptInstructionLimit,
		})
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating room catalog: %w", err)
	}
	return c, nil
}

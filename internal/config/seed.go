package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"open-data-insight/internal/model"
)

type seedFile struct {
	Connections []model.DatasetConnection `yaml:"connections"`
}

// LoadSeedConnections reads connections to pre-register at startup.
// An empty path yields no connections.
func LoadSeedConnections(path string) ([]model.DatasetConnection, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i := range seed.Connections {
		if err := seed.Connections[i].Validate(); err != nil {
			return nil, fmt.Errorf("seed connection %d: %w", i, err)
		}
	}
	return seed.Connections, nil
}

package tune

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Decode reads a YAML or JSON tune document.
func Decode(data []byte) (*Tune, error) {
	var t Tune
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode tune: %w", err)
	}
	return &t, nil
}

// Load reads a tune document from disk. The file name stands in for a
// missing id.
func Load(path string) (*Tune, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if t.ID == "" {
		t.ID = path
	}
	return t, nil
}

// Encode renders a tune as YAML.
func Encode(t *Tune) ([]byte, error) {
	return yaml.Marshal(t)
}

package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

var errReadBytes = errors.New("confloader: map provider has no byte form")

// mapProvider feeds an in-memory map of dotted keys to koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytes
}

// Read unflattens dotted keys so they merge with nested file values.
func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}

package undo

import (
	"fmt"
	"maps"
)

// MarkerSnapshot captures one marker so it can be recreated after its
// owning resource has been recreated.
type MarkerSnapshot struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Path       Path           `json:"path"`
}

// NewMarkerSnapshot copies the type, attributes and owner of m.
func NewMarkerSnapshot(m *Marker) *MarkerSnapshot {
	return &MarkerSnapshot{
		Type:       m.Type,
		Attributes: maps.Clone(m.Attributes),
		Path:       m.Path,
	}
}

// Create recreates the marker on its owning resource.
func (s *MarkerSnapshot) Create(store MarkerStore) (*Marker, error) {
	m, err := store.CreateMarker(s.Path, s.Type, maps.Clone(s.Attributes))
	if err != nil {
		return nil, fmt.Errorf("creating %s marker on %s: %w", s.Type, s.Path, err)
	}
	return m, nil
}

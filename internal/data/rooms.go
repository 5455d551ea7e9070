// Package data loads the static definition tables the server reads at boot.
package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoomDef is one room to initialize at startup.
type RoomDef struct {
	ID     string  `yaml:"id"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// RoomTable indexes room definitions by id.
type RoomTable struct {
	byID  map[string]*RoomDef
	order []string // file order, for deterministic boot logs
}

// Get returns a room definition by id, or nil if not found.
func (t *RoomTable) Get(id string) *RoomDef {
	return t.byID[id]
}

// All iterates room definitions in file order.
func (t *RoomTable) All(fn func(*RoomDef)) {
	for _, id := range t.order {
		fn(t.byID[id])
	}
}

// Count returns the number of rooms loaded.
func (t *RoomTable) Count() int {
	return len(t.byID)
}

// LoadRoomTable reads room definitions from a yaml file.
func LoadRoomTable(path string) (*RoomTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms %s: %w", path, err)
	}
	var defs []RoomDef
	if err := yaml.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse rooms %s: %w", path, err)
	}
	t := &RoomTable{byID: make(map[string]*RoomDef, len(defs))}
	for i := range defs {
		d := &defs[i]
		if d.ID == "" {
			return nil, fmt.Errorf("rooms %s: entry %d has no id", path, i)
		}
		if d.Width <= 0 || d.Height <= 0 {
			return nil, fmt.Errorf("rooms %s: room %s has non-positive bounds", path, d.ID)
		}
		if _, dup := t.byID[d.ID]; dup {
			return nil, fmt.Errorf("rooms %s: duplicate room id %s", path, d.ID)
		}
		t.byID[d.ID] = d
		t.order = append(t.order, d.ID)
	}
	return t, nil
}

// Package world defines the room catalog: the rooms a server runs, declared as
// content rather than code.
package world

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Kind selects the behaviour a room runs.
type Kind string

const (
	// KindAuth is the room unauthenticated sessions are pinned to.
	KindAuth Kind = "auth"
	// KindStation is a lobby without simulation.
	KindStation Kind = "station"
	// KindGame hosts a simulation with a periodic update.
	KindGame Kind = "game"
)

// DefaultTick is the update interval of a game room that declares none.
const DefaultTick = 100 * time.Millisecond

// RoomSpec declares one room.
type RoomSpec struct {
	ID   uint64
	Name string
	Kind Kind
	// Tick is the update interval for game rooms. Zero uses the configured
	// default.
	Tick time.Duration
	// ScriptDir, relative to the script root, holds the room's Lua files. Empty
	// means the room has no validation scripts.
	ScriptDir              string
	ScriptInstructionLimit int
}

// Catalog is the full set of rooms.
type Catalog struct {
	Rooms []RoomSpec
}

// Validate checks catalog invariants: ids are non-zero and unique, names are
// set, kinds are known, durations are not negative, and exactly one auth room
// exists.
//
// Postcondition: Returns nil if valid, or an error joining every violation.
func (c *Catalog) Validate() error {
	var errs []error
	seen := make(map[uint64]bool, len(c.Rooms))
	auth := 0
	for i, r := range c.Rooms {
		if r.ID == 0 {
			errs = append(errs, fmt.Errorf("room %d: id must be non-zero", i))
		} else if seen[r.ID] {
			errs = append(errs, fmt.Errorf("room %d: duplicate id", r.ID))
		}
		seen[r.ID] = true
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("room %d: name must not be empty", r.ID))
		}
		switch r.Kind {
		case KindAuth:
			auth++
		case KindStation, KindGame:
		default:
			errs = append(errs, fmt.Errorf("room %d: unknown kind %q", r.ID, r.Kind))
		}
		if r.Tick < 0 {
			errs = append(errs, fmt.Errorf("room %d: tick must not be negative", r.ID))
		}
		if r.ScriptInstructionLimit < 0 {
			errs = append(errs, fmt.Errorf("room %d: script_instruction_limit must not be negative", r.ID))
		}
		if r.ScriptDir != "" && r.Kind != KindGame {
			errs = append(errs, fmt.Errorf("room %d: only game rooms run scripts", r.ID))
		}
	}
	if auth != 1 {
		errs = append(errs, fmt.Errorf("catalog must declare exactly one auth room, found %d", auth))
	}
	return errors.Join(errs...)
}

// Lookup returns the room with id.
func (c *Catalog) Lookup(id uint64) (RoomSpec, bool) {
	for _, r := range c.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return RoomSpec{}, false
}

// AuthRoom returns the auth room.
//
// Precondition: c passed Validate.
func (c *Catalog) AuthRoom() RoomSpec {
	for _, r := range c.Rooms {
		if r.Kind == KindAuth {
			return r
		}
	}
	return RoomSpec{}
}

// Sorted returns the rooms ordered by id.
func (c *Catalog) Sorted() []RoomSpec {
	out := append([]RoomSpec(nil), c.Rooms...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

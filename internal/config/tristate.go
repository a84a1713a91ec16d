// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
)

// TriState is an option that is either forced on, forced off or left to a
// heuristic. The numeric values match the engine conventions.
type TriState int

const (
	Auto TriState = -1
	Off  TriState = 0
	On   TriState = 1
)

func (t TriState) String() string {
	switch t {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "auto"
	}
}

// Resolve returns the effective value, using auto for Auto.
func (t TriState) Resolve(auto bool) bool {
	switch t {
	case On:
		return true
	case Off:
		return false
	default:
		return auto
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t TriState) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TriState) UnmarshalText(b []byte) error {
	v, err := ParseTriState(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseTriState accepts auto/on/off and the usual boolean spellings.
func ParseTriState(s string) (TriState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "-1", "":
		return Auto, nil
	case "on", "true", "yes", "1":
		return On, nil
	case "off", "false", "no", "0":
		return Off, nil
	}
	return Auto, fmt.Errorf("invalid value %q (want auto, on or off)", s)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coms

import (
	"encoding/json"
	"fmt"
)

// OptionOther is the tri-state flag variant of an analysis option.
type OptionOther int32

const (
	OtherNone  OptionOther = 0
	OtherTrue  OptionOther = 1
	OtherFalse OptionOther = 2
)

// OptionKind discriminates the populated variant of an AnalysisOption.
type OptionKind uint8

const (
	// OptionOtherKind is the zero kind; an unconstructed option is the
	// tri-state "none".
	OptionOtherKind OptionKind = iota
	OptionIntKind
	OptionDoubleKind
	OptionStringKind
	OptionNestedKind
)

// AnalysisOption is one value in an options tree. Exactly one variant is
// populated: integer, double, text, tri-state flag, or a nested
// AnalysisOptions. The zero value is the tri-state "none".
type AnalysisOption struct {
	kind   OptionKind
	i      int64
	d      float64
	s      string
	o      OptionOther
	nested *AnalysisOptions
}

// IntOption returns an option holding an integer.
func IntOption(v int64) *AnalysisOption {
	return &AnalysisOption{kind: OptionIntKind, i: v}
}

// DoubleOption returns an option holding a double.
func DoubleOption(v float64) *AnalysisOption {
	return &AnalysisOption{kind: OptionDoubleKind, d: v}
}

// StringOption returns an option holding text.
func StringOption(v string) *AnalysisOption {
	return &AnalysisOption{kind: OptionStringKind, s: v}
}

// BoolOption returns an option holding a definite true or false.
func BoolOption(v bool) *AnalysisOption {
	if v {
		return &AnalysisOption{kind: OptionOtherKind, o: OtherTrue}
	}
	return &AnalysisOption{kind: OptionOtherKind, o: OtherFalse}
}

// NoneOption returns the tri-state "none" option.
func NoneOption() *AnalysisOption {
	return &AnalysisOption{kind: OptionOtherKind, o: OtherNone}
}

// NestedOption returns an option holding a nested options tree.
func NestedOption(opts *AnalysisOptions) *AnalysisOption {
	return &AnalysisOption{kind: OptionNestedKind, nested: opts}
}

// Kind returns the populated variant.
func (o *AnalysisOption) Kind() OptionKind { return o.kind }

// Int returns the integer payload; ok is false for any other kind.
func (o *AnalysisOption) Int() (int64, bool) { return o.i, o.kind == OptionIntKind }

// Double returns the double payload; ok is false for any other kind.
func (o *AnalysisOption) Double() (float64, bool) { return o.d, o.kind == OptionDoubleKind }

// Str returns the text payload; ok is false for any other kind.
func (o *AnalysisOption) Str() (string, bool) { return o.s, o.kind == OptionStringKind }

// Other returns the tri-state payload; ok is false for any other kind.
func (o *AnalysisOption) Other() (OptionOther, bool) { return o.o, o.kind == OptionOtherKind }

// Nested returns the nested options tree; ok is false for any other kind.
func (o *AnalysisOption) Nested() (*AnalysisOptions, bool) {
	return o.nested, o.kind == OptionNestedKind
}

// Equal performs a deep comparison: kind first, then payload, recursing
// into nested trees.
func (o *AnalysisOption) Equal(other *AnalysisOption) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.kind != other.kind {
		return false
	}
	switch o.kind {
	case OptionIntKind:
		return o.i == other.i
	case OptionDoubleKind:
		return o.d == other.d
	case OptionStringKind:
		return o.s == other.s
	case OptionOtherKind:
		return o.o == other.o
	case OptionNestedKind:
		return o.nested.Equal(other.nested)
	}
	return false
}

// MarshalJSON encodes the populated variant as a one-key object:
// {"i":n}, {"d":x}, {"s":"t"}, {"o":0|1|2}, or {"c":{...}}.
func (o *AnalysisOption) MarshalJSON() ([]byte, error) {
	switch o.kind {
	case OptionIntKind:
		return json.Marshal(map[string]int64{"i": o.i})
	case OptionDoubleKind:
		return json.Marshal(map[string]float64{"d": o.d})
	case OptionStringKind:
		return json.Marshal(map[string]string{"s": o.s})
	case OptionOtherKind:
		return json.Marshal(map[string]OptionOther{"o": o.o})
	case OptionNestedKind:
		return json.Marshal(map[string]*AnalysisOptions{"c": o.nested})
	}
	return nil, fmt.Errorf("analysis option has invalid kind %d", o.kind)
}

// UnmarshalJSON decodes a one-key variant object. Zero or multiple
// populated variants are rejected.
func (o *AnalysisOption) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("analysis option: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("analysis option must populate exactly one variant, got %d", len(raw))
	}
	for key, value := range raw {
		switch key {
		case "i":
			var v int64
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("option integer: %w", err)
			}
			*o = AnalysisOption{kind: OptionIntKind, i: v}
		case "d":
			var v float64
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("option double: %w", err)
			}
			*o = AnalysisOption{kind: OptionDoubleKind, d: v}
		case "s":
			var v string
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("option text: %w", err)
			}
			*o = AnalysisOption{kind: OptionStringKind, s: v}
		case "o":
			var v OptionOther
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("option flag: %w", err)
			}
			if v < OtherNone || v > OtherFalse {
				return fmt.Errorf("unknown option flag %d", v)
			}
			*o = AnalysisOption{kind: OptionOtherKind, o: v}
		case "c":
			var v AnalysisOptions
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("nested options: %w", err)
			}
			*o = AnalysisOption{kind: OptionNestedKind, nested: &v}
		default:
			return fmt.Errorf("unknown option variant %q", key)
		}
	}
	return nil
}

// AnalysisOptions is an ordered option-value store. When HasNames is
// true, Names[i] names Options[i] and values are addressable by name;
// otherwise options are purely positional.
//
// A populated Names list with HasNames false is ignored, not an error:
// decode stays total over sloppy writers, and Diff's conservatism covers
// correctness.
type AnalysisOptions struct {
	HasNames bool              `json:"hasNames"`
	Names    []string          `json:"names,omitempty"`
	Options  []*AnalysisOption `json:"options,omitempty"`
}

// NewNamedOptions returns an empty named options tree.
func NewNamedOptions() *AnalysisOptions {
	return &AnalysisOptions{HasNames: true}
}

// SetNamed sets or replaces the option with the given name.
func (a *AnalysisOptions) SetNamed(name string, value *AnalysisOption) {
	for i, existing := range a.Names {
		if existing == name {
			a.Options[i] = value
			return
		}
	}
	a.HasNames = true
	a.Names = append(a.Names, name)
	a.Options = append(a.Options, value)
}

// Get returns the option with the given name. Names are only consulted
// when HasNames is true.
func (a *AnalysisOptions) Get(name string) (*AnalysisOption, bool) {
	if a == nil || !a.HasNames {
		return nil, false
	}
	for i, existing := range a.Names {
		if existing == name && i < len(a.Options) {
			return a.Options[i], true
		}
	}
	return nil, false
}

// Resolve walks nested options by name, returning the option at the end
// of the path.
func (a *AnalysisOptions) Resolve(path ...string) (*AnalysisOption, bool) {
	current := a
	var opt *AnalysisOption
	for _, name := range path {
		if current == nil {
			return nil, false
		}
		var ok bool
		opt, ok = current.Get(name)
		if !ok {
			return nil, false
		}
		current, _ = opt.Nested()
	}
	return opt, opt != nil
}

// Equal performs a deep comparison of two option trees.
func (a *AnalysisOptions) Equal(other *AnalysisOptions) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.HasNames != other.HasNames || len(a.Options) != len(other.Options) {
		return false
	}
	if a.HasNames {
		if len(a.Names) != len(other.Names) {
			return false
		}
		for i := range a.Names {
			if a.Names[i] != other.Names[i] {
				return false
			}
		}
	}
	for i := range a.Options {
		if !a.Options[i].Equal(other.Options[i]) {
			return false
		}
	}
	return true
}

// DiffAll is the marker Diff returns when name-wise comparison is not
// possible and no names are available to enumerate.
const DiffAll = "*"

// Diff returns the names of options that differ between two revisions of
// the same analysis. Name-wise comparison is only meaningful when both
// sides carry names; when either side is purely positional the result is
// conservative: every name known to the newer side, or the DiffAll marker
// when it has none.
func Diff(prev, next *AnalysisOptions) []string {
	prevNamed := prev != nil && prev.HasNames
	nextNamed := next != nil && next.HasNames

	if !prevNamed || !nextNamed {
		if nextNamed {
			changed := make([]string, len(next.Names))
			copy(changed, next.Names)
			return changed
		}
		if prevNamed {
			changed := make([]string, len(prev.Names))
			copy(changed, prev.Names)
			return changed
		}
		return []string{DiffAll}
	}

	var changed []string
	seen := make(map[string]bool, len(next.Names))

	for i, name := range next.Names {
		seen[name] = true
		prevOpt, ok := prev.Get(name)
		if !ok {
			changed = append(changed, name)
			continue
		}
		if i < len(next.Options) && !next.Options[i].Equal(prevOpt) {
			changed = append(changed, name)
		}
	}
	for _, name := range prev.Names {
		if !seen[name] {
			changed = append(changed, name)
		}
	}
	return changed
}

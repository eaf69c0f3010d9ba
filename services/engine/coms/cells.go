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
	"strconv"
)

// SpecialValue is a cell sentinel distinct from any literal numeric or
// text value. Missing and NotANumber compare unequal to each other and
// to every integer, double, and string.
type SpecialValue int32

const (
	Missing    SpecialValue = 0
	NotANumber SpecialValue = 1
)

func (v SpecialValue) String() string {
	switch v {
	case Missing:
		return "MISSING"
	case NotANumber:
		return "NOT_A_NUMBER"
	default:
		return "UNKNOWN"
	}
}

// CellKind discriminates the populated variant of a CellValue.
type CellKind uint8

const (
	// CellSpecial is the zero kind: an unconstructed CellValue is the
	// Missing sentinel, which is what an empty dataset cell holds.
	CellSpecial CellKind = iota
	CellInt
	CellDouble
	CellString
)

// CellValue is a typed scalar used in result tables and dataset cells.
// Exactly one variant is populated: integer, double, text, or a special
// sentinel. The zero value is the Missing sentinel.
//
// CellValue is a closed sum: construct values with IntCell, DoubleCell,
// StringCell, or SpecialCell, and read them back through the kind-checked
// accessors. Sentinels never coerce to 0 or "".
type CellValue struct {
	kind CellKind
	i    int64
	d    float64
	s    string
	o    SpecialValue
}

// IntCell returns a CellValue holding an integer.
func IntCell(v int64) CellValue {
	return CellValue{kind: CellInt, i: v}
}

// DoubleCell returns a CellValue holding a double.
func DoubleCell(v float64) CellValue {
	return CellValue{kind: CellDouble, d: v}
}

// StringCell returns a CellValue holding text.
func StringCell(v string) CellValue {
	return CellValue{kind: CellString, s: v}
}

// SpecialCell returns a CellValue holding a sentinel.
func SpecialCell(v SpecialValue) CellValue {
	return CellValue{kind: CellSpecial, o: v}
}

// MissingCell returns the Missing sentinel, the value of an empty cell.
func MissingCell() CellValue {
	return CellValue{}
}

// Kind returns the populated variant.
func (c CellValue) Kind() CellKind { return c.kind }

// Int returns the integer payload; ok is false for any other kind.
func (c CellValue) Int() (v int64, ok bool) {
	return c.i, c.kind == CellInt
}

// Double returns the double payload; ok is false for any other kind.
func (c CellValue) Double() (v float64, ok bool) {
	return c.d, c.kind == CellDouble
}

// Str returns the text payload; ok is false for any other kind.
func (c CellValue) Str() (v string, ok bool) {
	return c.s, c.kind == CellString
}

// Special returns the sentinel payload; ok is false for any other kind.
func (c CellValue) Special() (v SpecialValue, ok bool) {
	return c.o, c.kind == CellSpecial
}

// IsMissing reports whether c is the Missing sentinel.
func (c CellValue) IsMissing() bool {
	return c.kind == CellSpecial && c.o == Missing
}

// Equal compares variant kind first, then payload. A sentinel is never
// equal to a numeric or text value, and Missing != NotANumber.
func (c CellValue) Equal(other CellValue) bool {
	if c.kind != other.kind {
		return false
	}
	switch c.kind {
	case CellInt:
		return c.i == other.i
	case CellDouble:
		return c.d == other.d
	case CellString:
		return c.s == other.s
	case CellSpecial:
		return c.o == other.o
	}
	return false
}

// Display renders the value for clipboard output. Sentinels render as
// the empty string (Missing) or "NaN" (NotANumber).
func (c CellValue) Display() string {
	switch c.kind {
	case CellInt:
		return strconv.FormatInt(c.i, 10)
	case CellDouble:
		return strconv.FormatFloat(c.d, 'g', -1, 64)
	case CellString:
		return c.s
	case CellSpecial:
		if c.o == NotANumber {
			return "NaN"
		}
		return ""
	}
	return ""
}

// MarshalJSON encodes the single populated variant as a one-key object:
// {"i":n}, {"d":x}, {"s":"t"}, or {"o":0|1}.
func (c CellValue) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case CellInt:
		return json.Marshal(map[string]int64{"i": c.i})
	case CellDouble:
		return json.Marshal(map[string]float64{"d": c.d})
	case CellString:
		return json.Marshal(map[string]string{"s": c.s})
	case CellSpecial:
		return json.Marshal(map[string]SpecialValue{"o": c.o})
	}
	return nil, fmt.Errorf("cell value has invalid kind %d", c.kind)
}

// UnmarshalJSON decodes a one-key variant object. Zero or multiple
// populated variants are rejected.
func (c *CellValue) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cell value: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("cell value must populate exactly one variant, got %d", len(raw))
	}
	for key, value := range raw {
		switch key {
		case "i":
			var v int64
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("cell integer: %w", err)
			}
			*c = IntCell(v)
		case "d":
			var v float64
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("cell double: %w", err)
			}
			*c = DoubleCell(v)
		case "s":
			var v string
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("cell text: %w", err)
			}
			*c = StringCell(v)
		case "o":
			var v SpecialValue
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("cell sentinel: %w", err)
			}
			if v != Missing && v != NotANumber {
				return fmt.Errorf("unknown cell sentinel %d", v)
			}
			*c = SpecialCell(v)
		default:
			return fmt.Errorf("unknown cell variant %q", key)
		}
	}
	return nil
}

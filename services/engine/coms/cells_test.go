// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coms

import (
	"encoding/json"
	"testing"
)

func TestCellValueRoundTrip(t *testing.T) {
	cases := []CellValue{
		IntCell(42),
		IntCell(-7),
		DoubleCell(3.25),
		StringCell("hello"),
		StringCell(""),
		SpecialCell(Missing),
		SpecialCell(NotANumber),
	}
	for _, c := range cases {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("marshal %v: %v", c, err)
		}
		var back CellValue
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if !c.Equal(back) {
			t.Errorf("round trip changed value: %v -> %s -> %v", c, data, back)
		}
	}
}

func TestCellValueRejectsMultipleVariants(t *testing.T) {
	var c CellValue
	if err := json.Unmarshal([]byte(`{"i":1,"s":"x"}`), &c); err == nil {
		t.Error("expected error for two populated variants")
	}
	if err := json.Unmarshal([]byte(`{}`), &c); err == nil {
		t.Error("expected error for zero populated variants")
	}
	if err := json.Unmarshal([]byte(`{"q":1}`), &c); err == nil {
		t.Error("expected error for unknown variant")
	}
	if err := json.Unmarshal([]byte(`{"o":7}`), &c); err == nil {
		t.Error("expected error for unknown sentinel")
	}
}

func TestSentinelsNeverCoerce(t *testing.T) {
	missing := SpecialCell(Missing)
	nan := SpecialCell(NotANumber)

	if missing.Equal(IntCell(0)) {
		t.Error("MISSING must not equal integer 0")
	}
	if missing.Equal(DoubleCell(0)) {
		t.Error("MISSING must not equal double 0")
	}
	if missing.Equal(StringCell("")) {
		t.Error("MISSING must not equal empty string")
	}
	if missing.Equal(nan) {
		t.Error("MISSING must not equal NOT_A_NUMBER")
	}
	if nan.Equal(DoubleCell(0)) {
		t.Error("NOT_A_NUMBER must not equal double 0")
	}
}

func TestZeroCellValueIsMissing(t *testing.T) {
	var c CellValue
	if !c.IsMissing() {
		t.Error("zero CellValue should be the Missing sentinel")
	}
	if !c.Equal(MissingCell()) {
		t.Error("zero CellValue should equal MissingCell()")
	}
}

func TestCellAccessorsAreKindChecked(t *testing.T) {
	c := IntCell(5)
	if _, ok := c.Double(); ok {
		t.Error("Double() on an integer cell should not be ok")
	}
	if _, ok := c.Str(); ok {
		t.Error("Str() on an integer cell should not be ok")
	}
	if v, ok := c.Int(); !ok || v != 5 {
		t.Errorf("Int() = %d, %v; want 5, true", v, ok)
	}
}

func TestCellDisplay(t *testing.T) {
	cases := map[string]CellValue{
		"42":   IntCell(42),
		"3.5":  DoubleCell(3.5),
		"text": StringCell("text"),
		"":     SpecialCell(Missing),
		"NaN":  SpecialCell(NotANumber),
	}
	for want, c := range cases {
		if got := c.Display(); got != want {
			t.Errorf("Display(%v) = %q, want %q", c, got, want)
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"testing"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

func TestCellTrackerCoalesces(t *testing.T) {
	tr := NewCellTracker()
	tr.MarkEdited(5, 7)
	tr.MarkEdited(8, 9) // adjacent
	tr.MarkEdited(1, 1)

	want := []coms.CellRange{{Start: 1, End: 1}, {Start: 5, End: 9}}
	got := tr.Ranges()
	if len(got) != len(want) {
		t.Fatalf("ranges = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestCellTrackerInsertSplitsSpannedRange(t *testing.T) {
	tr := NewCellTracker()
	tr.MarkEdited(2, 6)

	// Insert two rows inside the marked span. The mark must not cover
	// the new rows.
	tr.InsertRows(4, 5)

	if tr.IsEdited(4) || tr.IsEdited(5) {
		t.Error("inserted rows must not be marked edited")
	}
	for _, r := range []int{2, 3, 6, 7, 8} {
		if !tr.IsEdited(r) {
			t.Errorf("row %d lost its mark after insert", r)
		}
	}
	if tr.IsEdited(9) {
		t.Error("row 9 marked, mark grew during insert")
	}
}

func TestCellTrackerRemoveShiftsAndTrims(t *testing.T) {
	tr := NewCellTracker()
	tr.MarkEdited(2, 4)
	tr.MarkEdited(8, 9)

	// Remove rows 3..5: trims the first range, shifts the second.
	tr.RemoveRows(3, 5)

	if !tr.IsEdited(2) {
		t.Error("row 2 should stay marked")
	}
	if tr.IsEdited(3) || tr.IsEdited(4) {
		t.Error("marks inside the removed range should be gone")
	}
	if !tr.IsEdited(5) || !tr.IsEdited(6) {
		t.Error("second range should shift up by three rows")
	}
}

func TestCellTrackerNilSafe(t *testing.T) {
	var tr *CellTracker
	if tr.IsEdited(0) || tr.HasEdits() {
		t.Error("nil tracker reports edits")
	}
	tr.InsertRows(0, 1)
	tr.RemoveRows(0, 1)
	if tr.Ranges() != nil {
		t.Error("nil tracker returned ranges")
	}
}

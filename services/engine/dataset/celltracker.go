// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"sort"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// CellTracker records which rows of a column hold manually overridden
// values, as a normalized set of inclusive ranges. Row insertions and
// deletions shift the ranges so the marks stay attached to the right
// cells.
type CellTracker struct {
	ranges []coms.CellRange
}

// NewCellTracker returns an empty tracker.
func NewCellTracker() *CellTracker {
	return &CellTracker{}
}

// Ranges returns a copy of the edited ranges in ascending order.
func (t *CellTracker) Ranges() []coms.CellRange {
	if t == nil || len(t.ranges) == 0 {
		return nil
	}
	out := make([]coms.CellRange, len(t.ranges))
	copy(out, t.ranges)
	return out
}

// IsEdited reports whether the row is marked.
func (t *CellTracker) IsEdited(row int) bool {
	if t == nil {
		return false
	}
	r := int32(row)
	for _, cr := range t.ranges {
		if r >= cr.Start && r <= cr.End {
			return true
		}
	}
	return false
}

// HasEdits reports whether any cell is marked.
func (t *CellTracker) HasEdits() bool {
	return t != nil && len(t.ranges) > 0
}

// MarkEdited marks the inclusive row range as manually overridden.
func (t *CellTracker) MarkEdited(start, end int) {
	t.ranges = append(t.ranges, coms.CellRange{Start: int32(start), End: int32(end)})
	t.normalize()
}

// InsertRows shifts marks at or after start down by the inserted count.
// Inserted rows are not themselves edited.
func (t *CellTracker) InsertRows(start, end int) {
	if t == nil {
		return
	}
	count := int32(end - start + 1)
	s := int32(start)
	var out []coms.CellRange
	for _, cr := range t.ranges {
		switch {
		case cr.End < s:
			out = append(out, cr)
		case cr.Start >= s:
			out = append(out, coms.CellRange{Start: cr.Start + count, End: cr.End + count})
		default:
			// The insertion splits a marked range.
			out = append(out,
				coms.CellRange{Start: cr.Start, End: s - 1},
				coms.CellRange{Start: s + count, End: cr.End + count})
		}
	}
	t.ranges = out
	t.normalize()
}

// RemoveRows drops marks in the deleted range and shifts later marks up.
func (t *CellTracker) RemoveRows(start, end int) {
	if t == nil {
		return
	}
	s, e := int32(start), int32(end)
	count := e - s + 1
	var out []coms.CellRange
	for _, cr := range t.ranges {
		switch {
		case cr.End < s:
			out = append(out, cr)
		case cr.Start > e:
			out = append(out, coms.CellRange{Start: cr.Start - count, End: cr.End - count})
		default:
			// Overlap: keep the parts outside the deleted range.
			if cr.Start < s {
				out = append(out, coms.CellRange{Start: cr.Start, End: s - 1})
			}
			if cr.End > e {
				out = append(out, coms.CellRange{Start: s, End: cr.End - count})
			}
		}
	}
	t.ranges = out
	t.normalize()
}

// normalize sorts and coalesces adjacent or overlapping ranges.
func (t *CellTracker) normalize() {
	if len(t.ranges) == 0 {
		return
	}
	sort.Slice(t.ranges, func(i, j int) bool {
		return t.ranges[i].Start < t.ranges[j].Start
	})
	out := t.ranges[:1]
	for _, cr := range t.ranges[1:] {
		last := &out[len(out)-1]
		if cr.Start <= last.End+1 {
			if cr.End > last.End {
				last.End = cr.End
			}
		} else {
			out = append(out, cr)
		}
	}
	t.ranges = out
}

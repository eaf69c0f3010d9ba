// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"fmt"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// ApplyTransform applies one ledger mutation.
//
// CREATE appends the entry and materializes a recoded column per source
// column, with ParentID pointing at the source and TransformID linking
// back to the entry. UPDATE replaces the entry by id and flags every
// column whose lineage chain passes through the transform as needing
// recalculation; staleness cascades, deletion does not. REMOVE deletes
// the entry and only the columns whose entire lineage traces to it.
func (m *Model) ApplyTransform(ts coms.TransformSchema, sourceIDs []int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyTransform(ts, sourceIDs)
}

// validateTransforms rejects a batch of ledger mutations before any of
// them touches the model, so a failing SET leaves the ledger and the
// columns untouched. Callers hold the lock.
func (m *Model) validateTransforms(transforms []coms.TransformSchema, sourceIDs []int32) error {
	seen := make(map[int32]bool, len(transforms))
	for _, ts := range transforms {
		switch ts.Action {
		case coms.TransformCreate:
			if ts.Id != 0 {
				if seen[ts.Id] {
					return fmt.Errorf("transform id already exists: %d", ts.Id)
				}
				if _, exists := m.transformByID(ts.Id); exists && ts.Id < m.nextTransformID {
					return fmt.Errorf("transform id already exists: %d", ts.Id)
				}
				seen[ts.Id] = true
			}
			for _, id := range sourceIDs {
				if _, ok := m.columnByID(id); !ok {
					return fmt.Errorf("no such source column: %d", id)
				}
			}
		case coms.TransformUpdate, coms.TransformRemove:
			if _, ok := m.transformByID(ts.Id); !ok {
				return fmt.Errorf("no such transform: %d", ts.Id)
			}
		default:
			return fmt.Errorf("unknown transform action %d", ts.Action)
		}
	}
	return nil
}

func (m *Model) applyTransform(ts coms.TransformSchema, sourceIDs []int32) error {
	switch ts.Action {
	case coms.TransformCreate:
		return m.createTransform(ts, sourceIDs)
	case coms.TransformUpdate:
		return m.updateTransform(ts)
	case coms.TransformRemove:
		return m.removeTransform(ts.Id)
	default:
		return fmt.Errorf("unknown transform action %d", ts.Action)
	}
}

// allocateTransformID follows the same rules as column ids: 0 is auto,
// explicit ids below the high-water mark must not collide, ids above it
// advance the mark. Callers hold the lock.
func (m *Model) allocateTransformID(id int32) (int32, error) {
	if id == 0 {
		id = m.nextTransformID
	} else if id < m.nextTransformID {
		if _, exists := m.transformByID(id); exists {
			return 0, fmt.Errorf("transform id already exists: %d", id)
		}
	} else if id > m.nextTransformID {
		m.nextTransformID = id
	}
	if id == m.nextTransformID {
		m.nextTransformID++
	}
	return id, nil
}

func (m *Model) createTransform(ts coms.TransformSchema, sourceIDs []int32) error {
	useID, err := m.allocateTransformID(ts.Id)
	if err != nil {
		return err
	}
	ts.Id = useID
	if ts.Name == "" {
		ts.Name = fmt.Sprintf("Transform %d", len(m.transforms)+1)
	}
	base := ts.Name
	for i := 2; m.transformNameTaken(ts.Name, ts.Id); i++ {
		ts.Name = fmt.Sprintf("%s (%d)", base, i)
	}

	sources := make([]*Column, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		source, ok := m.columnByID(id)
		if !ok {
			return fmt.Errorf("no such source column: %d", id)
		}
		sources = append(sources, source)
	}

	m.transforms = append(m.transforms, ts)

	suffix := ts.Suffix
	if suffix == "" {
		suffix = " - " + ts.Name
	}
	for _, source := range sources {
		column, err := m.appendColumn(source.Name+suffix, 0)
		if err != nil {
			return err
		}
		column.ColumnType = coms.ColumnRecoded
		column.DataType = source.DataType
		column.MeasureType = ts.MeasureType
		column.ParentID = source.ID
		column.TransformID = ts.Id
		column.NeedsRecalc = true
		if m.hasCircularParenthood(column) {
			return fmt.Errorf("transform %d would create a lineage cycle", ts.Id)
		}
	}
	m.edited = true
	return nil
}

func (m *Model) transformNameTaken(name string, excludeID int32) bool {
	for i := range m.transforms {
		if m.transforms[i].Name == name && m.transforms[i].Id != excludeID {
			return true
		}
	}
	return false
}

func (m *Model) updateTransform(ts coms.TransformSchema) error {
	i, ok := m.transformByID(ts.Id)
	if !ok {
		return fmt.Errorf("no such transform: %d", ts.Id)
	}
	ts.Action = coms.TransformCreate // the stored form is the live entry
	m.transforms[i] = ts

	// Staleness cascades down every lineage chain that passes through a
	// column produced by this transform.
	for _, column := range m.columns {
		if column.TransformID == ts.Id {
			column.NeedsRecalc = true
			m.flagDependents(column)
		}
	}
	m.edited = true
	return nil
}

// flagDependents marks every column deriving (directly or transitively)
// from the given column as needing recalculation. Callers hold the lock.
func (m *Model) flagDependents(of *Column) {
	for _, column := range m.columns {
		if column == of {
			continue
		}
		if m.isParentOf(of, column, true) {
			column.NeedsRecalc = true
		}
	}
}

func (m *Model) removeTransform(id int32) error {
	i, ok := m.transformByID(id)
	if !ok {
		return fmt.Errorf("no such transform: %d", id)
	}
	m.transforms = append(m.transforms[:i], m.transforms[i+1:]...)

	// Collect the columns the transform produced, then every derived
	// column whose entire lineage traces into that set. Root and
	// unrelated computed columns stay.
	doomed := make(map[int32]bool)
	for _, column := range m.columns {
		if column.TransformID == id {
			doomed[column.ID] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, column := range m.columns {
			if doomed[column.ID] || column.ParentID == 0 {
				continue
			}
			if doomed[column.ParentID] &&
				(column.ColumnType == coms.ColumnComputed || column.ColumnType == coms.ColumnRecoded) {
				doomed[column.ID] = true
				changed = true
			}
		}
	}

	kept := m.columns[:0]
	for _, column := range m.columns {
		if !doomed[column.ID] {
			kept = append(kept, column)
		}
	}
	m.columns = kept
	m.reindex()
	m.updateFilterNames()
	m.edited = true
	return nil
}

// Transforms returns a copy of the ledger.
func (m *Model) Transforms() []coms.TransformSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]coms.TransformSchema, len(m.transforms))
	copy(out, m.transforms)
	return out
}

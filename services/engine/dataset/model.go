// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset implements the tabular data model behind the coms
// protocol: columns with stable ids and lineage, the transform ledger,
// row/column mutations, and the badger-backed project store.
//
// A Model has a single logical owner (the session); the embedded RWMutex
// serializes structural mutations against reads so no reader ever
// observes a partially applied insert or delete.
package dataset

import (
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// Column is one dataset column: schema fields plus the cell backing
// store. Id is stable across renames and reindexing; Index is the
// current display position.
type Column struct {
	ID          int32
	Name        string
	Index       int32
	ColumnType  coms.ColumnType
	DataType    coms.DataType
	MeasureType coms.MeasureType
	AutoMeasure bool
	Hidden      bool

	Levels         []coms.VariableLevel
	Formula        string
	FormulaMessage string

	// ParentID is the lineage key: the source column this computed or
	// recoded column derives from. 0 marks a root column.
	ParentID int32

	// TransformID links a recoded column to its ledger entry.
	TransformID int32

	FilterNo int32

	// Edited tracks manually overridden cells.
	Edited *CellTracker

	// NeedsRecalc marks cached values invalidated by an upstream
	// transform or formula change.
	NeedsRecalc bool

	Cells []coms.CellValue
}

// Schema returns the wire form of the column.
func (c *Column) Schema() coms.ColumnSchema {
	return coms.ColumnSchema{
		Id:               c.ID,
		Name:             c.Name,
		Index:            c.Index,
		ColumnType:       c.ColumnType,
		DataType:         c.DataType,
		MeasureType:      c.MeasureType,
		AutoMeasure:      c.AutoMeasure,
		Hidden:           c.Hidden,
		Active:           true,
		Levels:           c.Levels,
		Formula:          c.Formula,
		FormulaMessage:   c.FormulaMessage,
		ParentId:         c.ParentID,
		FilterNo:         c.FilterNo,
		EditedCellRanges: c.Edited.Ranges(),
	}
}

// Model is the in-memory dataset: ordered columns, the transform
// ledger, and the derived counts. Ids start at 1; 0 is reserved for
// "no column" / "no transform".
type Model struct {
	mu sync.RWMutex

	title  string
	path   string
	edited bool

	columns    []*Column
	transforms []coms.TransformSchema

	rowCount        int
	nextColumnID    int32
	nextTransformID int32

	// revision guards optimistic concurrency on mutations.
	revision int32

	editTracking bool
}

// NewModel returns an empty dataset with the given row count.
func NewModel(rows int) *Model {
	return &Model{
		rowCount:        rows,
		nextColumnID:    1,
		nextTransformID: 1,
	}
}

// Title returns the project title.
func (m *Model) Title() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.title
}

// SetTitle sets the project title.
func (m *Model) SetTitle(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.title = title
}

// Path returns the project path, empty for an unsaved project.
func (m *Model) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// MarkSaved records a successful save to path and clears the edited
// flag.
func (m *Model) MarkSaved(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.path = path
	m.edited = false
}

// Edited reports whether the dataset changed since the last save.
func (m *Model) Edited() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.edited
}

// Revision returns the current mutation revision.
func (m *Model) Revision() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// BeginEditTracking enables edited-cell tracking. Tracking is suspended
// while a project loads so imports don't count as manual edits.
func (m *Model) BeginEditTracking() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editTracking = true
}

// RowCount returns the current number of rows.
func (m *Model) RowCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowCount
}

// ColumnCount returns the current number of columns.
func (m *Model) ColumnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.columns)
}

// columnByID returns the column with the given stable id. Callers hold
// the lock.
func (m *Model) columnByID(id int32) (*Column, bool) {
	for _, column := range m.columns {
		if column.ID == id {
			return column, true
		}
	}
	return nil, false
}

// ColumnByID returns a column by stable id.
func (m *Model) ColumnByID(id int32) (*Column, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.columnByID(id)
}

// ColumnByName returns a column by its current name.
func (m *Model) ColumnByName(name string) (*Column, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, column := range m.columns {
		if column.Name == name {
			return column, true
		}
	}
	return nil, false
}

// transformByID returns the ledger entry with the given id. Callers
// hold the lock.
func (m *Model) transformByID(id int32) (int, bool) {
	for i := range m.transforms {
		if m.transforms[i].Id == id {
			return i, true
		}
	}
	return -1, false
}

// isParentOf reports whether parent appears in column's lineage chain.
// Callers hold the lock.
func (m *Model) isParentOf(parent, column *Column, deep bool) bool {
	if column.ParentID == parent.ID {
		return true
	}
	if deep && column.ParentID > 0 {
		next, ok := m.columnByID(column.ParentID)
		if !ok {
			return false
		}
		return m.isParentOf(parent, next, true)
	}
	return false
}

// hasCircularParenthood reports whether the column's lineage chain leads
// back to itself. Callers hold the lock.
func (m *Model) hasCircularParenthood(column *Column) bool {
	return m.isParentOf(column, column, true)
}

// allocateColumnID reserves an id: 0 asks for the next free id, an
// explicit id below the high-water mark must not collide, an id above
// it advances the mark. Callers hold the lock.
func (m *Model) allocateColumnID(id int32) (int32, error) {
	if id == 0 {
		id = m.nextColumnID
	} else if id < m.nextColumnID {
		if _, exists := m.columnByID(id); exists {
			return 0, fmt.Errorf("column id already exists: %d", id)
		}
	} else if id > m.nextColumnID {
		m.nextColumnID = id
	}
	if id == m.nextColumnID {
		m.nextColumnID++
	}
	return id, nil
}

// dedupName suffixes name with " (n)" until it is unique among columns,
// excluding the given column. Callers hold the lock.
func (m *Model) dedupName(name string, exclude *Column) string {
	checked := name
	for i := 2; m.nameTaken(checked, exclude); i++ {
		checked = fmt.Sprintf("%s (%d)", name, i)
	}
	return checked
}

func (m *Model) nameTaken(name string, exclude *Column) bool {
	for _, column := range m.columns {
		if column.Name == name && column != exclude {
			return true
		}
	}
	return false
}

// genColumnName produces a spreadsheet-style name for the given data
// index: A..Z, then AA, AB, and so on, deduped against existing names.
// Callers hold the lock.
func (m *Model) genColumnName(index int) string {
	name := ""
	for {
		i := index % 26
		name = string(rune('A'+i)) + name
		index = index/26 - 1
		if index < 0 {
			break
		}
	}
	return m.dedupName(name, nil)
}

// filterColumnCount counts the filter columns, which always sort first.
// Callers hold the lock.
func (m *Model) filterColumnCount() int {
	count := 0
	for _, column := range m.columns {
		if column.ColumnType != coms.ColumnFilter {
			break
		}
		count++
	}
	return count
}

// reindex rewrites each column's Index to its position. Callers hold
// the lock.
func (m *Model) reindex() {
	for i, column := range m.columns {
		column.Index = int32(i)
	}
}

// SetColumnName renames a column, regenerating an empty name and
// deduplicating collisions. Returns whether the name actually changed.
func (m *Model) SetColumnName(column *Column, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		index := int(column.Index)
		if filterCount := m.filterColumnCount(); index >= filterCount {
			index -= filterCount
		}
		name = m.genColumnName(index)
	}
	checked := m.dedupName(name, column)
	changed := column.Name != checked
	column.Name = checked
	return changed
}

// AppendColumn appends a column with the given name (generated when
// empty) and explicit id (0 for auto).
func (m *Model) AppendColumn(name string, id int32) (*Column, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendColumn(name, id)
}

func (m *Model) appendColumn(name string, id int32) (*Column, error) {
	useID, err := m.allocateColumnID(id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = m.genColumnName(len(m.columns) - m.filterColumnCount())
	} else {
		name = m.dedupName(name, nil)
	}

	column := &Column{
		ID:          useID,
		Name:        name,
		Index:       int32(len(m.columns)),
		ColumnType:  coms.ColumnNone,
		AutoMeasure: true,
		Edited:      NewCellTracker(),
		Cells:       emptyCells(m.rowCount),
	}
	m.columns = append(m.columns, column)
	m.edited = true
	return column, nil
}

// InsertColumns inserts count empty columns at index, shifting later
// columns right and reindexing.
func (m *Model) InsertColumns(index, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertColumns(index, count)
}

func (m *Model) insertColumns(index, count int) error {
	if count < 1 {
		return fmt.Errorf("column count %d out of range", count)
	}
	if index < 0 || index > len(m.columns) {
		return fmt.Errorf("column index %d out of range (0..%d)", index, len(m.columns))
	}

	filterCount := m.filterColumnCount()
	inserted := make([]*Column, 0, count)
	for i := 0; i < count; i++ {
		nameIndex := index + i
		if nameIndex >= filterCount {
			nameIndex -= filterCount
		}
		useID, err := m.allocateColumnID(0)
		if err != nil {
			return err
		}
		inserted = append(inserted, &Column{
			ID:          useID,
			Name:        m.genColumnName(nameIndex),
			ColumnType:  coms.ColumnNone,
			AutoMeasure: true,
			Edited:      NewCellTracker(),
			Cells:       emptyCells(m.rowCount),
		})
	}

	m.columns = append(m.columns[:index], append(inserted, m.columns[index:]...)...)
	m.reindex()
	m.edited = true
	return nil
}

// DeleteColumns removes the inclusive column range [start, end].
// Indices beyond the current bounds are an error, not a no-op.
func (m *Model) DeleteColumns(start, end int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteColumns(start, end)
}

func (m *Model) deleteColumns(start, end int) error {
	if start < 0 || end < start || end >= len(m.columns) {
		return fmt.Errorf("column range %d..%d out of range (0..%d)", start, end, len(m.columns)-1)
	}
	m.columns = append(m.columns[:start], m.columns[end+1:]...)
	m.reindex()
	m.updateFilterNames()
	m.recalcDependents()
	m.edited = true
	return nil
}

// InsertRows inserts empty rows over the inclusive range [start, end].
func (m *Model) InsertRows(start, end int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRows(start, end)
}

func (m *Model) insertRows(start, end int) error {
	if start < 0 || end < start || start > m.rowCount {
		return fmt.Errorf("row range %d..%d out of range (0..%d)", start, end, m.rowCount)
	}
	count := end - start + 1
	for _, column := range m.columns {
		blank := emptyCells(count)
		column.Cells = append(column.Cells[:start], append(blank, column.Cells[start:]...)...)
		if m.editTracking && column.ColumnType == coms.ColumnData {
			column.Edited.InsertRows(start, end)
		}
	}
	m.rowCount += count
	m.recalcDependents()
	m.edited = true
	return nil
}

// DeleteRows removes the inclusive row range [start, end]. Indices
// beyond the current bounds are an error, not a no-op.
func (m *Model) DeleteRows(start, end int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteRows(start, end)
}

func (m *Model) deleteRows(start, end int) error {
	if start < 0 || end < start || end >= m.rowCount {
		return fmt.Errorf("row range %d..%d out of range (0..%d)", start, end, m.rowCount-1)
	}
	count := end - start + 1
	for _, column := range m.columns {
		column.Cells = append(column.Cells[:start], column.Cells[end+1:]...)
		if m.editTracking {
			column.Edited.RemoveRows(start, end)
		}
	}
	m.rowCount -= count
	m.recalcDependents()
	m.edited = true
	return nil
}

// updateFilterNames renames filter columns to their canonical
// "Filter n" / "Fn (m)" names after a structural change. Callers hold
// the lock.
func (m *Model) updateFilterNames() {
	filterIndex := 0
	subfilterIndex := 1
	var seen []int32

	for _, column := range m.columns {
		if column.ColumnType != coms.ColumnFilter {
			break
		}
		already := false
		for _, no := range seen {
			if no == column.FilterNo {
				already = true
				break
			}
		}
		if already {
			column.Name = fmt.Sprintf("F%d (%d)", filterIndex, subfilterIndex+1)
			column.FilterNo = int32(filterIndex - 1)
			subfilterIndex++
		} else {
			column.Name = fmt.Sprintf("Filter %d", filterIndex+1)
			if column.FilterNo > -1 {
				seen = append(seen, column.FilterNo)
			}
			column.FilterNo = int32(filterIndex)
			filterIndex++
			subfilterIndex = 1
		}
	}
}

// recalcDependents flags every derived column for recomputation. The
// computation itself belongs to the engine; the model only tracks
// staleness. Callers hold the lock.
func (m *Model) recalcDependents() {
	for _, column := range m.columns {
		if column.ColumnType == coms.ColumnComputed ||
			column.ColumnType == coms.ColumnRecoded ||
			column.ColumnType == coms.ColumnFilter {
			column.NeedsRecalc = true
		}
	}
}

// RowFiltered reports whether the row is excluded by the active filter
// columns. A row is filtered out when any filter column holds a value
// other than integer 1 in it.
func (m *Model) RowFiltered(row int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rowFiltered(row)
}

func (m *Model) rowFiltered(row int) bool {
	if row >= m.rowCount {
		return false
	}
	for _, column := range m.columns {
		if column.ColumnType != coms.ColumnFilter {
			break
		}
		if row >= len(column.Cells) {
			continue
		}
		if v, ok := column.Cells[row].Int(); !ok || v != 1 {
			return true
		}
	}
	return false
}

// Schema derives the wire schema: column list, counts, and the
// transform ledger. Counts are computed fresh on every call.
func (m *Model) Schema() *coms.DataSetSchema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schema()
}

func (m *Model) schema() *coms.DataSetSchema {
	schema := &coms.DataSetSchema{
		RowCount:         int32(m.rowCount),
		ColumnCount:      int32(len(m.columns)),
		TotalColumnCount: int32(len(m.columns)),
	}

	visibleColumns := 0
	for _, column := range m.columns {
		schema.Columns = append(schema.Columns, column.Schema())
		if !column.Hidden {
			visibleColumns++
		}
	}
	schema.VisibleColumnCount = int32(visibleColumns)

	visibleRows := 0
	for row := 0; row < m.rowCount; row++ {
		if !m.rowFiltered(row) {
			visibleRows++
		}
	}
	schema.VisibleRowCount = int32(visibleRows)

	schema.Transforms = append(schema.Transforms, m.transforms...)
	return schema
}

func emptyCells(n int) []coms.CellValue {
	return make([]coms.CellValue, n)
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package coms

// VariableLevel is one categorical level of a column: display label,
// numeric code, and the raw value it was imported from.
type VariableLevel struct {
	Label       string `json:"label"`
	Value       int32  `json:"value"`
	ImportValue string `json:"importValue,omitempty"`
}

// CellRange is an inclusive row range, used for edited-cell tracking.
type CellRange struct {
	Start int32 `json:"start"`
	End   int32 `json:"end"`
}

// ColumnSchema describes one dataset column on the wire.
//
// Id is stable across renames and reordering; Index reflects the current
// display order and changes independently. ParentId is the lineage key:
// the source column a computed or recoded column derives from, 0 for a
// root column. Lineage forms a forest, never a cycle.
type ColumnSchema struct {
	Id          int32       `json:"id"`
	Name        string      `json:"name"`
	Index       int32       `json:"index"`
	ColumnType  ColumnType  `json:"columnType"`
	DataType    DataType    `json:"dataType"`
	MeasureType MeasureType `json:"measureType"`
	AutoMeasure bool        `json:"autoMeasure,omitempty"`
	Hidden      bool        `json:"hidden,omitempty"`
	Active      bool        `json:"active,omitempty"`

	Levels []VariableLevel `json:"levels,omitempty"`

	// Formula and FormulaMessage apply to computed/recoded columns; the
	// message is the engine's diagnostic for a bad formula.
	Formula        string `json:"formula,omitempty"`
	FormulaMessage string `json:"formulaMessage,omitempty"`

	ParentId int32 `json:"parentId,omitempty"`
	FilterNo int32 `json:"filterNo,omitempty"`

	// EditedCellRanges marks cells whose cached values were manually
	// overridden.
	EditedCellRanges []CellRange `json:"editedCellRanges,omitempty"`
}

// TransformSchema is one entry (or mutation) of the transform ledger.
// Formulas holds one or more formula variants with parallel diagnostic
// messages in FormulaMessages.
type TransformSchema struct {
	Id              int32           `json:"id"`
	Name            string          `json:"name,omitempty"`
	Formulas        []string        `json:"formulas,omitempty"`
	FormulaMessages []string        `json:"formulaMessages,omitempty"`
	Action          TransformAction `json:"action"`
	MeasureType     MeasureType     `json:"measureType,omitempty"`
	ColourIndex     int32           `json:"colourIndex,omitempty"`
	Suffix          string          `json:"suffix,omitempty"`
}

// DataSetSchema is the full dataset shape: the ordered column list, the
// derived counts, and the transform ledger. Counts are recomputed on
// every schema-affecting mutation, never stored authoritatively.
type DataSetSchema struct {
	Columns []ColumnSchema `json:"columns,omitempty"`

	RowCount           int32 `json:"rowCount"`
	ColumnCount        int32 `json:"columnCount"`
	VisibleRowCount    int32 `json:"visibleRowCount"`
	VisibleColumnCount int32 `json:"visibleColumnCount"`
	TotalColumnCount   int32 `json:"totalColumnCount"`

	Transforms []TransformSchema `json:"transforms,omitempty"`
}

// ColumnCells is one column's cells for the addressed row range, in row
// order.
type ColumnCells struct {
	ColumnId int32       `json:"columnId"`
	Values   []CellValue `json:"values,omitempty"`
}

// DataSetRR is the single request/response envelope for dataset reads
// and mutations. The same shape serves both directions; response fields
// the operation did not produce stay empty.
//
// Ranges are inclusive at both ends. A request addresses either the
// rectangular range (RowStart..RowEnd, ColumnStart..ColumnEnd) or the
// sparse selection (RowIndices/ColumnIds); the sparse form wins when
// present.
//
// Revision guards mutations against lost updates: an op with a revision
// below the dataset's current revision is rejected as stale; a matching
// revision applies and increments. GET ignores the field and reports the
// current revision back.
type DataSetRR struct {
	Op       GetSet `json:"op"`
	Revision int32  `json:"revision,omitempty"`

	RowStart    int32 `json:"rowStart,omitempty"`
	ColumnStart int32 `json:"columnStart,omitempty"`
	RowEnd      int32 `json:"rowEnd,omitempty"`
	ColumnEnd   int32 `json:"columnEnd,omitempty"`

	RowIndices []int32 `json:"rowIndices,omitempty"`
	ColumnIds  []int32 `json:"columnIds,omitempty"`

	IncData       bool `json:"incData,omitempty"`
	IncSchema     bool `json:"incSchema,omitempty"`
	ExcHiddenCols bool `json:"excHiddenCols,omitempty"`
	IncClipboard  bool `json:"incClipboard,omitempty"`
	IncFiltered   bool `json:"incFiltered,omitempty"`

	Data   []ColumnCells  `json:"data,omitempty"`
	Schema *DataSetSchema `json:"schema,omitempty"`

	// Filtered is a bitmask over the addressed rows: bit i set means
	// row i of the range is filtered out.
	Filtered []byte `json:"filtered,omitempty"`

	// Clipboard renderings of the addressed range, produced on GET when
	// IncClipboard is set.
	ClipboardText string `json:"clipboardText,omitempty"`
	ClipboardHtml string `json:"clipboardHtml,omitempty"`
}

// SetFilteredBit sets bit i of the filter bitmask, growing it as needed.
func (rr *DataSetRR) SetFilteredBit(i int) {
	byteIndex := i / 8
	for len(rr.Filtered) <= byteIndex {
		rr.Filtered = append(rr.Filtered, 0)
	}
	rr.Filtered[byteIndex] |= 1 << uint(i%8)
}

// FilteredBit reports bit i of the filter bitmask.
func (rr *DataSetRR) FilteredBit(i int) bool {
	byteIndex := i / 8
	if byteIndex >= len(rr.Filtered) {
		return false
	}
	return rr.Filtered[byteIndex]&(1<<uint(i%8)) != 0
}

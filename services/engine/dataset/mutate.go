// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// ErrStaleRevision is returned when a mutating DataSetRR carries a
// revision older than the dataset's current one.
type ErrStaleRevision struct {
	Requested int32
	Current   int32
}

func (e *ErrStaleRevision) Error() string {
	return fmt.Sprintf("stale revision %d, current is %d", e.Requested, e.Current)
}

// Apply executes one DataSetRR against the model and builds the
// response. GET runs under the read lock and never mutates; every other
// op runs under the write lock, so concurrent readers never observe a
// partially applied insert or delete.
//
// Mutations are guarded by the revision: requests older than the
// current revision fail with ErrStaleRevision, matching requests apply
// and increment. Errors leave the model unchanged and are reported at
// the envelope level by the caller; no partial dataset state is
// returned.
func (m *Model) Apply(rr *coms.DataSetRR) (*coms.DataSetRR, error) {
	if rr.Op == coms.OpGet {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.applyGet(rr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if rr.Revision < m.revision {
		return nil, &ErrStaleRevision{Requested: rr.Revision, Current: m.revision}
	}

	var (
		resp *coms.DataSetRR
		err  error
	)
	switch rr.Op {
	case coms.OpSet:
		resp, err = m.applySet(rr)
	case coms.OpDelRows:
		err = m.deleteRows(int(rr.RowStart), int(rr.RowEnd))
	case coms.OpDelCols:
		err = m.deleteColumns(int(rr.ColumnStart), int(rr.ColumnEnd))
	case coms.OpInsRows:
		err = m.insertRows(int(rr.RowStart), int(rr.RowEnd))
	case coms.OpInsCols:
		err = m.insertColumns(int(rr.ColumnStart), int(rr.ColumnEnd-rr.ColumnStart+1))
	default:
		err = fmt.Errorf("unknown dataset op %d", rr.Op)
	}
	if err != nil {
		return nil, err
	}

	m.revision++
	m.edited = true

	if resp == nil {
		resp = &coms.DataSetRR{Op: rr.Op}
	}
	resp.Revision = m.revision
	// Structural ops always report the updated schema.
	if rr.Op != coms.OpSet || resp.Schema != nil || rr.IncSchema {
		resp.Schema = m.schema()
	}
	return resp, nil
}

// targetColumns resolves the addressed columns: the sparse ColumnIds
// selection when present, the inclusive index range otherwise. Callers
// hold a lock.
func (m *Model) targetColumns(rr *coms.DataSetRR) ([]*Column, error) {
	if len(rr.ColumnIds) > 0 {
		columns := make([]*Column, 0, len(rr.ColumnIds))
		for _, id := range rr.ColumnIds {
			column, ok := m.columnByID(id)
			if !ok {
				return nil, fmt.Errorf("no such column: %d", id)
			}
			columns = append(columns, column)
		}
		return columns, nil
	}
	if rr.ColumnStart < 0 || rr.ColumnEnd < rr.ColumnStart || int(rr.ColumnEnd) >= len(m.columns) {
		return nil, fmt.Errorf("column range %d..%d out of range (0..%d)",
			rr.ColumnStart, rr.ColumnEnd, len(m.columns)-1)
	}
	return m.columns[rr.ColumnStart : rr.ColumnEnd+1], nil
}

// targetRows resolves the addressed rows: the sparse RowIndices when
// present, the inclusive range otherwise.
func (m *Model) targetRows(rr *coms.DataSetRR) ([]int, error) {
	if len(rr.RowIndices) > 0 {
		rows := make([]int, 0, len(rr.RowIndices))
		for _, r := range rr.RowIndices {
			if r < 0 || int(r) >= m.rowCount {
				return nil, fmt.Errorf("row index %d out of range (0..%d)", r, m.rowCount-1)
			}
			rows = append(rows, int(r))
		}
		return rows, nil
	}
	if rr.RowStart < 0 || rr.RowEnd < rr.RowStart || int(rr.RowEnd) >= m.rowCount {
		return nil, fmt.Errorf("row range %d..%d out of range (0..%d)",
			rr.RowStart, rr.RowEnd, m.rowCount-1)
	}
	rows := make([]int, 0, rr.RowEnd-rr.RowStart+1)
	for r := rr.RowStart; r <= rr.RowEnd; r++ {
		rows = append(rows, int(r))
	}
	return rows, nil
}

func (m *Model) applyGet(rr *coms.DataSetRR) (*coms.DataSetRR, error) {
	resp := &coms.DataSetRR{Op: coms.OpGet, Revision: m.revision}

	if rr.IncSchema {
		resp.Schema = m.schema()
	}
	if !rr.IncData && !rr.IncClipboard && !rr.IncFiltered {
		return resp, nil
	}

	columns, err := m.targetColumns(rr)
	if err != nil {
		return nil, err
	}
	rows, err := m.targetRows(rr)
	if err != nil {
		return nil, err
	}

	if rr.ExcHiddenCols {
		visible := columns[:0:0]
		for _, column := range columns {
			if !column.Hidden {
				visible = append(visible, column)
			}
		}
		columns = visible
	}

	if rr.IncData {
		for _, column := range columns {
			data := coms.ColumnCells{ColumnId: column.ID}
			for _, r := range rows {
				data.Values = append(data.Values, column.Cells[r])
			}
			resp.Data = append(resp.Data, data)
		}
	}

	if rr.IncFiltered {
		for i, r := range rows {
			if m.rowFiltered(r) {
				resp.SetFilteredBit(i)
			}
		}
	}

	if rr.IncClipboard {
		resp.ClipboardText, resp.ClipboardHtml = renderClipboard(columns, rows)
	}
	return resp, nil
}

func (m *Model) applySet(rr *coms.DataSetRR) (*coms.DataSetRR, error) {
	columns, err := m.targetColumns(rr)
	if err != nil {
		return nil, err
	}
	rows, err := m.targetRows(rr)
	if err != nil {
		return nil, err
	}

	// Transform ledger mutations ride in the schema of a SET. They are
	// validated up front with the cell blocks so a rejected request,
	// stale or malformed, never leaves a partial ledger behind.
	var transforms []coms.TransformSchema
	if rr.Schema != nil {
		transforms = rr.Schema.Transforms
	}
	if err := m.validateTransforms(transforms, rr.ColumnIds); err != nil {
		return nil, err
	}

	byID := make(map[int32]*Column, len(columns))
	for _, column := range columns {
		byID[column.ID] = column
	}

	// Validate the whole write first: mutations are atomic, so a bad
	// block must not leave half the cells written.
	for _, data := range rr.Data {
		column, ok := byID[data.ColumnId]
		if !ok {
			return nil, fmt.Errorf("column %d is not in the addressed range", data.ColumnId)
		}
		if len(data.Values) != len(rows) {
			return nil, fmt.Errorf("column %d: %d values for %d addressed rows",
				column.ID, len(data.Values), len(rows))
		}
	}

	for _, ts := range transforms {
		if err := m.applyTransform(ts, rr.ColumnIds); err != nil {
			return nil, err
		}
	}

	for _, data := range rr.Data {
		column := byID[data.ColumnId]
		for i, r := range rows {
			column.Cells[r] = data.Values[i]
		}
		if m.editTracking && column.ColumnType == coms.ColumnData {
			for _, r := range rows {
				column.Edited.MarkEdited(r, r)
			}
		}
	}

	resp := &coms.DataSetRR{Op: coms.OpSet}

	// Schema changes ride along when the write altered column
	// types/roles (or any other schema field).
	if rr.Schema != nil {
		changed, err := m.applySchemaChanges(rr.Schema)
		if err != nil {
			return nil, err
		}
		if changed {
			resp.Schema = m.schema()
		}
	}
	if len(transforms) > 0 {
		resp.Schema = m.schema()
	}
	m.edited = true
	return resp, nil
}

// applySchemaChanges applies per-column schema updates from a SET
// request. Lineage cycles are rejected before anything is written.
func (m *Model) applySchemaChanges(schema *coms.DataSetSchema) (bool, error) {
	changed := false
	for _, cs := range schema.Columns {
		column, ok := m.columnByID(cs.Id)
		if !ok {
			return changed, fmt.Errorf("no such column: %d", cs.Id)
		}

		if cs.ParentId != column.ParentID {
			old := column.ParentID
			column.ParentID = cs.ParentId
			if cs.ParentId != 0 {
				if _, ok := m.columnByID(cs.ParentId); !ok {
					column.ParentID = old
					return changed, fmt.Errorf("no such parent column: %d", cs.ParentId)
				}
				if m.hasCircularParenthood(column) {
					column.ParentID = old
					return changed, fmt.Errorf("column %d: lineage cycle via parent %d", cs.Id, cs.ParentId)
				}
			}
			changed = true
		}

		if cs.Name != "" && cs.Name != column.Name {
			column.Name = m.dedupName(cs.Name, column)
			changed = true
		}
		if cs.ColumnType != column.ColumnType {
			column.ColumnType = cs.ColumnType
			column.NeedsRecalc = column.ColumnType != coms.ColumnData
			changed = true
		}
		if cs.DataType != column.DataType {
			column.DataType = cs.DataType
			changed = true
		}
		if cs.MeasureType != column.MeasureType {
			column.MeasureType = cs.MeasureType
			changed = true
		}
		if cs.Hidden != column.Hidden {
			column.Hidden = cs.Hidden
			changed = true
		}
		if cs.Formula != column.Formula {
			column.Formula = cs.Formula
			column.NeedsRecalc = true
			m.flagDependents(column)
			changed = true
		}
		if cs.Levels != nil {
			column.Levels = cs.Levels
			changed = true
		}
		if cs.FilterNo != column.FilterNo {
			column.FilterNo = cs.FilterNo
			changed = true
		}
	}
	if changed {
		m.updateFilterNames()
	}
	return changed, nil
}

// renderClipboard produces tab-separated text and an HTML table for the
// addressed range, sentinels rendered per CellValue.Display.
func renderClipboard(columns []*Column, rows []int) (text, html string) {
	var tsv, h strings.Builder

	h.WriteString("<table><thead><tr>")
	for i, column := range columns {
		if i > 0 {
			tsv.WriteByte('\t')
		}
		tsv.WriteString(column.Name)
		h.WriteString("<th>" + htmlEscape(column.Name) + "</th>")
	}
	tsv.WriteByte('\n')
	h.WriteString("</tr></thead><tbody>")

	for _, r := range rows {
		h.WriteString("<tr>")
		for i, column := range columns {
			if i > 0 {
				tsv.WriteByte('\t')
			}
			display := column.Cells[r].Display()
			tsv.WriteString(display)
			h.WriteString("<td>" + htmlEscape(display) + "</td>")
		}
		tsv.WriteByte('\n')
		h.WriteString("</tr>")
	}
	h.WriteString("</tbody></table>")
	return tsv.String(), h.String()
}

func htmlEscape(s string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(s)
}

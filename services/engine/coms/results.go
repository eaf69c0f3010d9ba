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

// ResultsElement is one node of the hierarchical results document.
//
// Exactly one content variant may be populated: Table, Image, Group,
// Array, Html, Preformatted, or Syntax. An element with no content is a
// valid placeholder. Name is unique among siblings and is the merge key
// for incremental updates.
//
// Error and Status are element-local: a failing element degrades one
// panel, never the whole document. Stale marks content that predates the
// latest option change; it remains displayable until recomputed.
type ResultsElement struct {
	Name    string         `json:"name"`
	Title   string         `json:"title,omitempty"`
	Status  AnalysisStatus `json:"status"`
	Error   *Error         `json:"error,omitempty"`
	Stale   bool           `json:"stale,omitempty"`
	Visible Visible        `json:"visible,omitempty"`

	// State is the engine's opaque cached-state blob. It is carried, not
	// interpreted.
	State []byte `json:"state,omitempty"`

	Table        *ResultsTable `json:"table,omitempty"`
	Image        *ResultsImage `json:"image,omitempty"`
	Group        *ResultsGroup `json:"group,omitempty"`
	Array        *ResultsArray `json:"array,omitempty"`
	Html         *string       `json:"html,omitempty"`
	Preformatted *string       `json:"preformatted,omitempty"`
	Syntax       *string       `json:"syntax,omitempty"`
}

// ResultsGroup holds an ordered list of child elements.
type ResultsGroup struct {
	Elements []*ResultsElement `json:"elements,omitempty"`
}

// ResultsArray holds an ordered list of child elements rendered as a
// repeated layout.
type ResultsArray struct {
	Elements  []*ResultsElement `json:"elements,omitempty"`
	HasHeader bool              `json:"hasHeader,omitempty"`
	Layout    int32             `json:"layout,omitempty"`
}

// ResultsImage references a rendered plot by path.
type ResultsImage struct {
	Path   string `json:"path"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
}

// ResultsColumn is one column of a results table: metadata plus an
// ordered cell list aligned to the table's row names.
type ResultsColumn struct {
	Name       string      `json:"name"`
	Title      string      `json:"title,omitempty"`
	Type       string      `json:"type,omitempty"`
	Format     string      `json:"format,omitempty"`
	SuperTitle string      `json:"superTitle,omitempty"`
	Visible    Visible     `json:"visible,omitempty"`
	Sortable   bool        `json:"sortable,omitempty"`
	HasSortKey bool        `json:"hasSortKey,omitempty"`
	Cells      []CellValue `json:"cells,omitempty"`
}

// TableSort records the active sort of a results table.
type TableSort struct {
	SortBy   string `json:"sortBy"`
	SortDesc bool   `json:"sortDesc,omitempty"`
}

// ResultsTable is a rectangular result: ordered columns of cells, an
// ordered row-name list, string-keyed notes, and optional selection and
// sort state. Every column's cell count must equal the row count.
type ResultsTable struct {
	Columns     []*ResultsColumn  `json:"columns,omitempty"`
	RowNames    []string          `json:"rowNames,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
	RowSelected int32             `json:"rowSelected,omitempty"`
	Sort        *TableSort        `json:"sort,omitempty"`
	Swapped     bool              `json:"swapped,omitempty"`
}

// Validate checks the column/row count invariant.
func (t *ResultsTable) Validate() error {
	for _, col := range t.Columns {
		if len(col.Cells) != len(t.RowNames) {
			return fmt.Errorf("column %q has %d cells, table has %d rows",
				col.Name, len(col.Cells), len(t.RowNames))
		}
	}
	return nil
}

// contentCount returns how many content variants are populated.
func (e *ResultsElement) contentCount() int {
	n := 0
	if e.Table != nil {
		n++
	}
	if e.Image != nil {
		n++
	}
	if e.Group != nil {
		n++
	}
	if e.Array != nil {
		n++
	}
	if e.Html != nil {
		n++
	}
	if e.Preformatted != nil {
		n++
	}
	if e.Syntax != nil {
		n++
	}
	return n
}

// Validate rejects elements carrying more than one content variant, and
// recurses into tables and children.
func (e *ResultsElement) Validate() error {
	if n := e.contentCount(); n > 1 {
		return fmt.Errorf("element %q populates %d content variants", e.Name, n)
	}
	if e.Table != nil {
		if err := e.Table.Validate(); err != nil {
			return fmt.Errorf("element %q: %w", e.Name, err)
		}
	}
	for _, child := range e.children() {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalJSON decodes an element and enforces the content invariant at
// the trust boundary.
func (e *ResultsElement) UnmarshalJSON(data []byte) error {
	type plain ResultsElement
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = ResultsElement(p)
	if n := e.contentCount(); n > 1 {
		return fmt.Errorf("element %q populates %d content variants", e.Name, n)
	}
	return nil
}

// children returns the child elements of a group or array node, or nil
// for leaf content.
func (e *ResultsElement) children() []*ResultsElement {
	switch {
	case e.Group != nil:
		return e.Group.Elements
	case e.Array != nil:
		return e.Array.Elements
	}
	return nil
}

// Children returns the child elements of a group or array node, or nil
// for leaf content. The slice is the live child list, not a copy.
func (e *ResultsElement) Children() []*ResultsElement {
	return e.children()
}

// setChildren replaces the child list of a group or array node.
func (e *ResultsElement) setChildren(children []*ResultsElement) {
	switch {
	case e.Group != nil:
		e.Group.Elements = children
	case e.Array != nil:
		e.Array.Elements = children
	}
}

// SetError marks this element as failed without touching siblings or
// children. Element-level errors are never escalated.
func (e *ResultsElement) SetError(message, cause string) {
	e.Status = AnalysisError
	e.Error = &Error{Message: message, Cause: cause}
}

// Find walks the tree by element names, returning the addressed node.
// An empty path returns the element itself.
func (e *ResultsElement) Find(path ...string) (*ResultsElement, bool) {
	current := e
	for _, name := range path {
		var next *ResultsElement
		for _, child := range current.children() {
			if child.Name == name {
				next = child
				break
			}
		}
		if next == nil {
			return nil, false
		}
		current = next
	}
	return current, true
}

// MarkStale sets the stale flag on the addressed node only. Staleness
// does not invalidate siblings.
func (e *ResultsElement) MarkStale(path ...string) bool {
	node, ok := e.Find(path...)
	if !ok {
		return false
	}
	node.Stale = true
	return true
}

// ReplaceSubtree swaps the node addressed by path (names from this
// element, excluding it) for newNode. Replacing with an empty path is
// not supported; callers replace roots directly.
func (e *ResultsElement) ReplaceSubtree(path []string, newNode *ResultsElement) bool {
	if len(path) == 0 {
		return false
	}
	parent := e
	if len(path) > 1 {
		var ok bool
		parent, ok = e.Find(path[:len(path)-1]...)
		if !ok {
			return false
		}
	}
	children := parent.children()
	for i, child := range children {
		if child.Name == path[len(path)-1] {
			children[i] = newNode
			parent.setChildren(children)
			return true
		}
	}
	return false
}

// ResolveVisibility reports whether the element renders. Yes and No are
// absolute. The DEFAULT values defer to the consumer's per-content-type
// default; pass nil to fall back to the flag's own bias (DefaultYes
// renders, DefaultNo does not).
func (e *ResultsElement) ResolveVisibility(consumerDefault *bool) bool {
	switch e.Visible {
	case VisibleYes:
		return true
	case VisibleNo:
		return false
	case VisibleDefaultNo:
		if consumerDefault != nil {
			return *consumerDefault
		}
		return false
	default:
		if consumerDefault != nil {
			return *consumerDefault
		}
		return true
	}
}

// Merge produces the incremental update of prev by next.
//
// For group and array nodes, children are matched to the previous tree
// by name: matched children are replaced wholesale with the new subtree
// (no field-level diffing), unmatched previous children are dropped, and
// unmatched new children are appended. Sibling subtrees that came from
// next are carried as the same pointers, so an update touching one child
// leaves the others bit-identical.
//
// For leaf nodes, and when the content kind changed, next wins outright.
// When next carries no cached state, prev's state blob survives the
// merge so incremental resume stays possible.
func Merge(prev, next *ResultsElement) *ResultsElement {
	if prev == nil {
		return next
	}
	if next == nil {
		return prev
	}

	if next.State == nil {
		next.State = prev.State
	}

	prevChildren := prev.children()
	nextChildren := next.children()
	if prevChildren == nil || nextChildren == nil {
		return next
	}

	prevByName := make(map[string]*ResultsElement, len(prevChildren))
	for _, child := range prevChildren {
		prevByName[child.Name] = child
	}

	merged := make([]*ResultsElement, 0, len(nextChildren))
	for _, child := range nextChildren {
		if old, ok := prevByName[child.Name]; ok {
			merged = append(merged, Merge(old, child))
		} else {
			merged = append(merged, child)
		}
	}
	next.setChildren(merged)
	return next
}

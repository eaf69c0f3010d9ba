// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package coms defines the wire contract between a statistical-analysis
// client and the results engine: the message envelope, the cell value
// model, the results tree, the analysis options tree, and the dataset
// read/write protocol.
//
// The numeric codes in this file are part of the compatibility surface
// shared with clients and must not be renumbered.
package coms

// Status is the envelope-level status of a response frame.
type Status int32

const (
	StatusComplete   Status = 0
	StatusInProgress Status = 1
	StatusError      Status = 2
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "COMPLETE"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// AnalysisStatus is the lifecycle status of an analysis instance and of
// individual results elements.
type AnalysisStatus int32

const (
	AnalysisNone      AnalysisStatus = 0
	AnalysisInited    AnalysisStatus = 1
	AnalysisRunning   AnalysisStatus = 2
	AnalysisComplete  AnalysisStatus = 3
	AnalysisError     AnalysisStatus = 4
	AnalysisRendering AnalysisStatus = 5
)

func (s AnalysisStatus) String() string {
	switch s {
	case AnalysisNone:
		return "NONE"
	case AnalysisInited:
		return "INITED"
	case AnalysisRunning:
		return "RUNNING"
	case AnalysisComplete:
		return "COMPLETE"
	case AnalysisError:
		return "ERROR"
	case AnalysisRendering:
		return "RENDERING"
	default:
		return "UNKNOWN"
	}
}

// Perform is the action an AnalysisRequest asks the engine to take.
// Values 2 and 3 are reserved by the protocol; the gap is deliberate.
type Perform int32

const (
	PerformInit   Perform = 0
	PerformRun    Perform = 1
	PerformRender Perform = 4
	PerformSave   Perform = 5
	PerformDelete Perform = 6
)

func (p Perform) String() string {
	switch p {
	case PerformInit:
		return "INIT"
	case PerformRun:
		return "RUN"
	case PerformRender:
		return "RENDER"
	case PerformSave:
		return "SAVE"
	case PerformDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether p is one of the defined perform actions.
func (p Perform) Valid() bool {
	switch p {
	case PerformInit, PerformRun, PerformRender, PerformSave, PerformDelete:
		return true
	}
	return false
}

// Visible controls whether a results element renders. The DEFAULT values
// defer to the consuming engine's per-content-type default.
type Visible int32

const (
	VisibleDefaultYes Visible = 0
	VisibleDefaultNo  Visible = 1
	VisibleYes        Visible = 2
	VisibleNo         Visible = 3
)

// GetSet is the operation code of a DataSetRR envelope.
type GetSet int32

const (
	OpGet     GetSet = 0
	OpSet     GetSet = 1
	OpDelRows GetSet = 2
	OpDelCols GetSet = 3
	OpInsRows GetSet = 4
	OpInsCols GetSet = 5
)

func (op GetSet) String() string {
	switch op {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpDelRows:
		return "DEL_ROWS"
	case OpDelCols:
		return "DEL_COLS"
	case OpInsRows:
		return "INS_ROWS"
	case OpInsCols:
		return "INS_COLS"
	default:
		return "UNKNOWN"
	}
}

// Mutates reports whether the operation changes dataset state.
func (op GetSet) Mutates() bool {
	return op != OpGet
}

// ColumnType is the role of a dataset column.
type ColumnType int32

const (
	ColumnNone     ColumnType = 0
	ColumnData     ColumnType = 1
	ColumnComputed ColumnType = 2
	ColumnRecoded  ColumnType = 3
	ColumnFilter   ColumnType = 4
)

func (t ColumnType) String() string {
	switch t {
	case ColumnNone:
		return "NONE"
	case ColumnData:
		return "DATA"
	case ColumnComputed:
		return "COMPUTED"
	case ColumnRecoded:
		return "RECODED"
	case ColumnFilter:
		return "FILTER"
	default:
		return "UNKNOWN"
	}
}

// DataType is the storage type of a dataset column.
type DataType int32

const (
	DataInteger DataType = 0
	DataDecimal DataType = 1
	DataText    DataType = 2
)

// MeasureType is the statistical role of a column's values.
type MeasureType int32

const (
	MeasureNone       MeasureType = 0
	MeasureNominal    MeasureType = 2
	MeasureOrdinal    MeasureType = 3
	MeasureContinuous MeasureType = 4
)

// TransformAction describes the mutation a TransformSchema applies to
// the transform ledger.
type TransformAction int32

const (
	TransformCreate TransformAction = 0
	TransformUpdate TransformAction = 1
	TransformRemove TransformAction = 2
)

func (a TransformAction) String() string {
	switch a {
	case TransformCreate:
		return "CREATE"
	case TransformUpdate:
		return "UPDATE"
	case TransformRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// Error is the {message, cause} pair attached at envelope, analysis, or
// element granularity.
type Error struct {
	Message string `json:"message"`
	Cause   string `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != "" {
		return e.Message + ": " + e.Cause
	}
	return e.Message
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

func TestCreateTransformMaterializesColumns(t *testing.T) {
	m := NewModel(5)
	source, err := m.AppendColumn("age", 0)
	require.NoError(t, err)

	err = m.ApplyTransform(coms.TransformSchema{
		Name:     "Z score",
		Action:   coms.TransformCreate,
		Formulas: []string{"scale($source)"},
	}, []int32{source.ID})
	require.NoError(t, err)

	ledger := m.Transforms()
	require.Len(t, ledger, 1)
	assert.Equal(t, int32(1), ledger[0].Id)
	assert.Equal(t, "Z score", ledger[0].Name)

	recoded, ok := m.ColumnByName("age - Z score")
	require.True(t, ok, "recoded column named source + suffix")
	assert.Equal(t, coms.ColumnRecoded, recoded.ColumnType)
	assert.Equal(t, source.ID, recoded.ParentID)
	assert.Equal(t, ledger[0].Id, recoded.TransformID)
	assert.True(t, recoded.NeedsRecalc, "materialized column starts stale")
}

func TestCreateTransformDedupsName(t *testing.T) {
	m := NewModel(2)
	source, err := m.AppendColumn("x", 0)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := m.ApplyTransform(coms.TransformSchema{
			Name: "Recode", Action: coms.TransformCreate, Suffix: " - r",
		}, []int32{source.ID})
		require.NoError(t, err)
	}

	ledger := m.Transforms()
	require.Len(t, ledger, 2)
	assert.Equal(t, "Recode", ledger[0].Name)
	assert.Equal(t, "Recode (2)", ledger[1].Name)
}

func TestCreateTransformUnknownSource(t *testing.T) {
	m := NewModel(2)
	err := m.ApplyTransform(coms.TransformSchema{
		Name: "t", Action: coms.TransformCreate,
	}, []int32{42})
	assert.Error(t, err)
	assert.Empty(t, m.Transforms(), "failed create must not land in the ledger")
}

func TestUpdateTransformFlagsDependentsStale(t *testing.T) {
	m := NewModel(3)
	source, err := m.AppendColumn("x", 0)
	require.NoError(t, err)
	require.NoError(t, m.ApplyTransform(coms.TransformSchema{
		Name: "t", Action: coms.TransformCreate, Suffix: " - t",
	}, []int32{source.ID}))

	recoded, _ := m.ColumnByName("x - t")
	recoded.NeedsRecalc = false

	// A computed column downstream of the recoded one.
	derived, err := m.AppendColumn("derived", 0)
	require.NoError(t, err)
	derived.ColumnType = coms.ColumnComputed
	derived.ParentID = recoded.ID
	derived.NeedsRecalc = false

	err = m.ApplyTransform(coms.TransformSchema{
		Id: 1, Name: "t", Action: coms.TransformUpdate, Formulas: []string{"$source + 1"},
	}, nil)
	require.NoError(t, err)

	assert.True(t, recoded.NeedsRecalc, "updated transform invalidates its columns")
	assert.True(t, derived.NeedsRecalc, "staleness cascades down the lineage chain")
	_, stillThere := m.ColumnByName("derived")
	assert.True(t, stillThere, "update never deletes columns")
}

func TestRemoveTransformCascadesOnlyExclusiveDerivations(t *testing.T) {
	m := NewModel(3)
	source, err := m.AppendColumn("x", 0)
	require.NoError(t, err)
	require.NoError(t, m.ApplyTransform(coms.TransformSchema{
		Name: "t", Action: coms.TransformCreate, Suffix: " - t",
	}, []int32{source.ID}))
	recoded, _ := m.ColumnByName("x - t")

	// Derived exclusively from the recoded column: goes with it.
	doomed, err := m.AppendColumn("doomed", 0)
	require.NoError(t, err)
	doomed.ColumnType = coms.ColumnComputed
	doomed.ParentID = recoded.ID

	// Rooted at the original source: survives.
	unrelated, err := m.AppendColumn("unrelated", 0)
	require.NoError(t, err)
	unrelated.ColumnType = coms.ColumnComputed
	unrelated.ParentID = source.ID

	err = m.ApplyTransform(coms.TransformSchema{Id: 1, Action: coms.TransformRemove}, nil)
	require.NoError(t, err)

	assert.Empty(t, m.Transforms())
	_, gone := m.ColumnByName("x - t")
	assert.False(t, gone)
	_, gone = m.ColumnByName("doomed")
	assert.False(t, gone, "exclusively derived column removed with the transform")
	_, kept := m.ColumnByName("unrelated")
	assert.True(t, kept, "column rooted elsewhere survives")
	_, kept = m.ColumnByName("x")
	assert.True(t, kept, "source data column survives")
}

func TestRemoveUnknownTransform(t *testing.T) {
	m := NewModel(1)
	err := m.ApplyTransform(coms.TransformSchema{Id: 9, Action: coms.TransformRemove}, nil)
	assert.Error(t, err)
}

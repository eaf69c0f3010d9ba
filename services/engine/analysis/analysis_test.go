// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

func groupTree(names ...string) *coms.ResultsElement {
	root := &coms.ResultsElement{
		Name:   "results",
		Status: coms.AnalysisComplete,
		Group:  &coms.ResultsGroup{},
	}
	for _, name := range names {
		root.Group.Elements = append(root.Group.Elements, &coms.ResultsElement{
			Name:   name,
			Status: coms.AnalysisComplete,
			State:  []byte("cached"),
		})
	}
	return root
}

func TestLifecycleNeverSkipsInited(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	assert.Equal(t, coms.AnalysisNone, a.Status())

	// RUN before INIT must not move the instance.
	_, err := a.BeginRun(context.Background(), 0, nil, false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, coms.AnalysisNone, a.Status())

	require.NoError(t, a.Init(nil))
	assert.Equal(t, coms.AnalysisInited, a.Status())

	// Double INIT rejected.
	require.ErrorIs(t, a.Init(nil), ErrInvalidTransition)
}

func TestRunCompleteAndRerun(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))

	_, err := a.BeginRun(context.Background(), 0, nil, false)
	require.NoError(t, err)
	assert.Equal(t, coms.AnalysisRunning, a.Status())

	require.True(t, a.Complete(0, groupTree("summary")))
	assert.Equal(t, coms.AnalysisComplete, a.Status())
	require.NotNil(t, a.Results())

	// Re-run from Complete at a newer revision is allowed.
	_, err = a.BeginRun(context.Background(), 1, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.Revision())
}

func TestRunStaleRevisionRejected(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))
	_, err := a.BeginRun(context.Background(), 3, nil, false)
	require.NoError(t, err)
	require.True(t, a.Complete(3, groupTree("x")))

	_, err = a.BeginRun(context.Background(), 2, nil, false)
	assert.ErrorIs(t, err, ErrStaleRevision)
	assert.Equal(t, coms.AnalysisComplete, a.Status())
}

func TestLateResultFromSupersededRunDropped(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))
	_, err := a.BeginRun(context.Background(), 1, nil, false)
	require.NoError(t, err)

	// The run is superseded before its result lands.
	_, err = a.BeginRun(context.Background(), 2, nil, false)
	require.NoError(t, err)

	assert.False(t, a.Complete(1, groupTree("old")), "stale result must be dropped")
	assert.Equal(t, coms.AnalysisRunning, a.Status())
	assert.Nil(t, a.Results())

	assert.True(t, a.Complete(2, groupTree("new")))
}

func TestFailAndRecover(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))
	_, err := a.BeginRun(context.Background(), 0, nil, false)
	require.NoError(t, err)

	require.True(t, a.Fail(0, "division by zero", "anova.compute"))
	assert.Equal(t, coms.AnalysisError, a.Status())
	resp := a.Response()
	require.NotNil(t, resp.Error)
	assert.Equal(t, "division by zero", resp.Error.Message)

	// RUN from Error is a valid recovery path and clears the error.
	_, err = a.BeginRun(context.Background(), 1, nil, false)
	require.NoError(t, err)
	assert.Nil(t, a.Response().Error)
}

func TestRenderOnlyFromComplete(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))

	_, err := a.BeginRender(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = a.BeginRun(context.Background(), 0, nil, false)
	require.NoError(t, err)
	_, err = a.BeginRender(context.Background())
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.True(t, a.Complete(0, groupTree("x")))

	_, err = a.BeginRender(context.Background())
	require.NoError(t, err)
	assert.Equal(t, coms.AnalysisRendering, a.Status())
	require.True(t, a.Complete(0, groupTree("x")), "render lands back in Complete")
	assert.Equal(t, coms.AnalysisComplete, a.Status())
}

func TestClearStateDropsCachedBlobs(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))
	_, err := a.BeginRun(context.Background(), 0, nil, false)
	require.NoError(t, err)
	require.True(t, a.Complete(0, groupTree("summary", "plot")))

	for _, child := range a.Results().Children() {
		require.NotEmpty(t, child.State)
	}

	_, err = a.BeginRun(context.Background(), 1, nil, true)
	require.NoError(t, err)

	for _, child := range a.Results().Children() {
		assert.Empty(t, child.State, "clearState must drop cached blobs")
	}
}

func TestDeleteCancelsInFlightRun(t *testing.T) {
	r := NewRegistry()
	a, err := r.Create("inst", 1, "ttest", "base")
	require.NoError(t, err)
	require.NoError(t, a.Init(nil))

	ctx, err := a.BeginRun(context.Background(), 0, nil, false)
	require.NoError(t, err)

	require.True(t, r.Delete("inst", 1))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("delete must cancel the in-flight run context")
	}
	_, ok := r.Get("inst", 1)
	assert.False(t, ok)
}

func TestRegistryCreateAndList(t *testing.T) {
	r := NewRegistry()

	_, err := r.Create("inst", 2, "anova", "base")
	require.NoError(t, err)
	_, err = r.Create("inst", 1, "ttest", "base")
	require.NoError(t, err)
	_, err = r.Create("other", 1, "ttest", "base")
	require.NoError(t, err)

	_, err = r.Create("inst", 1, "ttest", "base")
	assert.Error(t, err, "duplicate key must be rejected")

	list := r.List("inst")
	require.Len(t, list, 2)
	assert.Equal(t, int32(1), list[0].AnalysisID())
	assert.Equal(t, int32(2), list[1].AnalysisID())

	r.DropInstance("inst")
	assert.Empty(t, r.List("inst"))
	assert.Equal(t, 1, r.Len())
}

func TestSaveOptionsKeepsStatus(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))

	opts := &coms.AnalysisOptions{}
	opts.SetNamed("alpha", coms.DoubleOption(0.05))
	require.NoError(t, a.SaveOptions(0, opts))

	assert.Equal(t, coms.AnalysisInited, a.Status())
	assert.Same(t, opts, a.Options())
}

func TestSaveOptionsStaleRevisionRejected(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))

	newer := &coms.AnalysisOptions{}
	newer.SetNamed("alpha", coms.DoubleOption(0.05))
	require.NoError(t, a.SaveOptions(5, newer))

	older := &coms.AnalysisOptions{}
	older.SetNamed("alpha", coms.DoubleOption(0.1))
	require.ErrorIs(t, a.SaveOptions(1, older), ErrStaleRevision)
	assert.Same(t, newer, a.Options(), "stale save must not clobber newer options")
}

func TestCancelledRunRefusesLateResults(t *testing.T) {
	a := New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))

	ctx, err := a.BeginRun(context.Background(), 0, nil, false)
	require.NoError(t, err)

	a.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("cancel must release the run context")
	}

	assert.False(t, a.Fail(0, "late", "run aborted"))
	assert.False(t, a.Complete(0, groupTree("summary")))
	assert.Equal(t, coms.AnalysisNone, a.Status())
}

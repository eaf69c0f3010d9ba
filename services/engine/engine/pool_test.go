// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianStats/services/engine/analysis"
	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// scriptRunner runs a caller-supplied function per job.
type scriptRunner struct {
	run    func(ctx context.Context, job Job, emit func(Update)) error
	closed *atomic.Int32
}

func (r *scriptRunner) Run(ctx context.Context, job Job, emit func(Update)) error {
	return r.run(ctx, job, emit)
}

func (r *scriptRunner) Close() error {
	if r.closed != nil {
		r.closed.Add(1)
	}
	return nil
}

func newTestPool(t *testing.T, slots int, run func(ctx context.Context, job Job, emit func(Update)) error) (*Pool, *atomic.Int32) {
	t.Helper()
	var spawned, closed atomic.Int32
	pool, err := NewPool(slots, func() (Runner, error) {
		spawned.Add(1)
		return &scriptRunner{run: run, closed: &closed}, nil
	}, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() { pool.Close() })
	return pool, &spawned
}

func readyAnalysis(t *testing.T, revision int32) (*analysis.Analysis, context.Context) {
	t.Helper()
	a := analysis.New("inst", 1, "ttest", "base")
	require.NoError(t, a.Init(nil))
	ctx, err := a.BeginRun(context.Background(), revision, nil, false)
	require.NoError(t, err)
	return a, ctx
}

func results(name string) *coms.ResultsElement {
	return &coms.ResultsElement{
		Name:   "results",
		Status: coms.AnalysisComplete,
		Group: &coms.ResultsGroup{Elements: []*coms.ResultsElement{
			{Name: name, Status: coms.AnalysisComplete},
		}},
	}
}

func TestPoolProgressThenTerminal(t *testing.T) {
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		emit(Update{Results: results("partial"), Progress: 1, ProgressTotal: 3})
		emit(Update{Results: results("more"), Progress: 2, ProgressTotal: 3})
		emit(Update{Results: results("final"), Complete: true})
		return nil
	})

	a, ctx := readyAnalysis(t, 0)
	var mu sync.Mutex
	var got []Update
	done := make(chan struct{})
	err := pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0, Emit: func(u Update) {
		mu.Lock()
		got = append(got, u)
		mu.Unlock()
		if u.Terminal() {
			close(done)
		}
	}})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminal update never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.False(t, got[0].Terminal())
	assert.Equal(t, int32(1), got[0].Progress)
	assert.True(t, got[2].Terminal())
	assert.Equal(t, coms.AnalysisComplete, a.Status())
}

func TestPoolDropsDecreasingProgress(t *testing.T) {
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		emit(Update{Progress: 5, ProgressTotal: 10})
		emit(Update{Progress: 3, ProgressTotal: 10}) // must be dropped
		emit(Update{Progress: 7, ProgressTotal: 10})
		emit(Update{Complete: true})
		return nil
	})

	a, ctx := readyAnalysis(t, 0)
	var mu sync.Mutex
	var progress []int32
	done := make(chan struct{})
	require.NoError(t, pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0, Emit: func(u Update) {
		if u.Terminal() {
			close(done)
			return
		}
		mu.Lock()
		progress = append(progress, u.Progress)
		mu.Unlock()
	}}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminal update never arrived")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int32{5, 7}, progress)
}

func TestPoolUpdatesAfterTerminalDropped(t *testing.T) {
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		emit(Update{Complete: true, Results: results("done")})
		emit(Update{Progress: 9})                     // late, dropped
		emit(Update{Err: &coms.Error{Message: "no"}}) // second terminal, dropped
		return nil
	})

	a, ctx := readyAnalysis(t, 0)
	var count atomic.Int32
	done := make(chan struct{})
	require.NoError(t, pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0, Emit: func(u Update) {
		if count.Add(1) == 1 {
			close(done)
		}
	}}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("terminal update never arrived")
	}
	pool.Close()
	assert.Equal(t, int32(1), count.Load(), "exactly one update after the terminal one")
	assert.Equal(t, coms.AnalysisComplete, a.Status())
}

func TestPoolRunnerErrorBecomesTerminalFailure(t *testing.T) {
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		return errors.New("R process crashed")
	})

	a, ctx := readyAnalysis(t, 0)
	done := make(chan Update, 1)
	require.NoError(t, pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0, Emit: func(u Update) {
		if u.Terminal() {
			done <- u
		}
	}}))

	select {
	case u := <-done:
		require.NotNil(t, u.Err)
		assert.Equal(t, "R process crashed", u.Err.Cause)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal update never arrived")
	}
	assert.Equal(t, coms.AnalysisError, a.Status())
}

func TestPoolSupersededResultNeverEmitted(t *testing.T) {
	release := make(chan struct{})
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		<-release
		emit(Update{Complete: true, Results: results("stale")})
		return nil
	})

	a, ctx := readyAnalysis(t, 0)
	var emitted atomic.Int32
	require.NoError(t, pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0, Emit: func(u Update) {
		emitted.Add(1)
	}}))

	// Supersede the run before its result lands.
	_, err := a.BeginRun(context.Background(), 1, nil, false)
	require.NoError(t, err)
	close(release)

	pool.Close() // waits for the in-flight job
	assert.Equal(t, int32(0), emitted.Load(), "superseded result must be dropped")
	assert.Equal(t, coms.AnalysisRunning, a.Status(), "still waiting on the new revision")
	_ = ctx
}

func TestPoolRestartBarrier(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	pool, spawned := newTestPool(t, 2, func(ctx context.Context, job Job, emit func(Update)) error {
		close(started)
		<-release
		emit(Update{Complete: true})
		return nil
	})
	require.Equal(t, int32(2), spawned.Load())

	a, ctx := readyAnalysis(t, 0)
	require.NoError(t, pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0}))
	<-started

	restartDone := make(chan error, 1)
	go func() { restartDone <- pool.Restart() }()

	// The barrier must not lift while the job is still in flight.
	select {
	case <-restartDone:
		t.Fatal("restart finished with a job in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-restartDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("restart never finished")
	}
	assert.Equal(t, int32(4), spawned.Load(), "every slot respawned its runner")
}

func TestPoolSubmitAfterClose(t *testing.T) {
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		emit(Update{Complete: true})
		return nil
	})
	pool.Close()

	a, ctx := readyAnalysis(t, 0)
	err := pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPoolCancelledMidRunEmitsNothing(t *testing.T) {
	started := make(chan struct{})
	returned := make(chan struct{})
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		close(started)
		<-ctx.Done()
		defer close(returned)
		return ctx.Err()
	})

	a, ctx := readyAnalysis(t, 0)
	var emitted atomic.Int32
	err := pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0, Emit: func(Update) {
		emitted.Add(1)
	}})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never picked up the job")
	}

	// A delete aborts the run; the instance no longer wants a frame.
	a.Cancel()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never observed the cancellation")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, emitted.Load(), "aborted run must not produce a terminal frame")
	assert.Equal(t, coms.AnalysisNone, a.Status())
}

func TestPoolCancelledJobSkipped(t *testing.T) {
	ran := make(chan struct{}, 1)
	pool, _ := newTestPool(t, 1, func(ctx context.Context, job Job, emit func(Update)) error {
		ran <- struct{}{}
		emit(Update{Complete: true})
		return nil
	})

	a, _ := readyAnalysis(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Submit may queue the job or report the cancellation, depending on
	// which select branch wins; either way the runner must not see it.
	_ = pool.Submit(Job{Ctx: ctx, Analysis: a, Revision: 0})

	select {
	case <-ran:
		t.Fatal("cancelled job must not reach the runner")
	case <-time.After(200 * time.Millisecond):
	}
}

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
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("engine pool closed")

// Pool runs jobs over a fixed number of runner slots.
//
// Each slot hosts one Runner and processes one job at a time. Restart
// is a barrier: no new job starts while it runs, every in-flight job
// finishes first, then all slots respawn their runners before work
// resumes.
type Pool struct {
	log       *slog.Logger
	newRunner RunnerFactory
	size      int

	queue chan Job

	// gate is read-held for the duration of each job; Restart takes it
	// for writing, which is the barrier.
	gate  sync.RWMutex
	slots []*slot

	group  *errgroup.Group
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

type slot struct {
	index  int
	runner Runner
}

// NewPool creates a pool with the given slot count. Runners are spawned
// on Start.
func NewPool(slots int, newRunner RunnerFactory, log *slog.Logger) (*Pool, error) {
	if slots < 1 {
		return nil, fmt.Errorf("slot count %d, need at least 1", slots)
	}
	if newRunner == nil {
		return nil, errors.New("runner factory is nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		log:       log,
		newRunner: newRunner,
		size:      slots,
		queue:     make(chan Job, slots*4),
	}, nil
}

// Start spawns the runners and the slot workers. Workers exit when ctx
// is cancelled or Close is called.
func (p *Pool) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.size; i++ {
		runner, err := p.newRunner()
		if err != nil {
			cancel()
			p.closeSlots()
			return fmt.Errorf("spawn runner %d: %w", i, err)
		}
		p.slots = append(p.slots, &slot{index: i, runner: runner})
	}

	p.group, ctx = errgroup.WithContext(ctx)
	for _, s := range p.slots {
		s := s
		p.group.Go(func() error {
			p.work(ctx, s)
			return nil
		})
	}
	p.log.Info("engine pool started", slog.Int("slots", len(p.slots)))
	return nil
}

// Submit queues a job. Blocks when the queue is full, errors after
// Close.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPoolClosed
	}

	select {
	case p.queue <- job:
		return nil
	case <-job.Ctx.Done():
		return job.Ctx.Err()
	}
}

// Restart flushes outstanding work and respawns every runner before new
// jobs are accepted. Queued jobs survive; they run on the fresh
// runners.
func (p *Pool) Restart() error {
	p.gate.Lock()
	defer p.gate.Unlock()

	p.log.Info("engine restart barrier", slog.Int("slots", len(p.slots)))

	// All slots respawn concurrently; the barrier lifts once every one
	// is back.
	var wg sync.WaitGroup
	errs := make([]error, len(p.slots))
	for i, s := range p.slots {
		wg.Add(1)
		go func(i int, s *slot) {
			defer wg.Done()
			if err := s.runner.Close(); err != nil {
				p.log.Warn("runner close failed",
					slog.Int("slot", s.index), slog.String("error", err.Error()))
			}
			runner, err := p.newRunner()
			if err != nil {
				errs[i] = fmt.Errorf("respawn runner %d: %w", s.index, err)
				return
			}
			s.runner = runner
		}(i, s)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close stops the workers, waits for in-flight jobs, and closes the
// runners.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		_ = p.group.Wait()
	}
	p.closeSlots()
	return nil
}

func (p *Pool) closeSlots() {
	for _, s := range p.slots {
		if err := s.runner.Close(); err != nil {
			p.log.Warn("runner close failed",
				slog.Int("slot", s.index), slog.String("error", err.Error()))
		}
	}
	p.slots = nil
}

func (p *Pool) work(ctx context.Context, s *slot) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.gate.RLock()
			p.run(s, job)
			p.gate.RUnlock()
		}
	}
}

// run executes one job on a slot, enforcing the per-run ordering
// contract: progress never decreases, updates after the terminal one
// are dropped, and results the instance no longer wants (superseded
// revision) never reach Emit.
func (p *Pool) run(s *slot, job Job) {
	if job.Ctx.Err() != nil {
		return
	}

	var (
		terminal     bool
		lastProgress int32
	)
	emit := func(u Update) {
		if terminal {
			return
		}
		if !u.Terminal() {
			if u.Progress < lastProgress {
				return
			}
			lastProgress = u.Progress
			if job.Analysis.Progress(job.Revision, u.Results) && job.Emit != nil {
				job.Emit(u)
			}
			return
		}

		terminal = true
		accepted := false
		if u.Err != nil {
			accepted = job.Analysis.Fail(job.Revision, u.Err.Message, u.Err.Cause)
		} else {
			accepted = job.Analysis.Complete(job.Revision, u.Results)
		}
		if accepted && job.Emit != nil {
			job.Emit(u)
		}
	}

	err := s.runner.Run(job.Ctx, job, emit)
	if terminal {
		return
	}
	// A cancelled run ends silently. The instance was deleted or
	// superseded, so no frame belongs to it anymore.
	if job.Ctx.Err() != nil {
		return
	}
	// The runner finished without a terminal update; its return value
	// stands in for one.
	if err != nil {
		p.log.Warn("runner failed",
			slog.Int("slot", s.index),
			slog.String("analysis", job.Analysis.Name()),
			slog.String("error", err.Error()))
		emit(Update{Err: &coms.Error{Message: "analysis failed", Cause: err.Error()}})
		return
	}
	emit(Update{Complete: true})
}

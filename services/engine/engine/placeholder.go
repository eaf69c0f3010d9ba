// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"

	"github.com/AleutianAI/AleutianStats/services/engine/coms"
)

// PlaceholderRunner fills slots when no computation backend is
// attached. It completes every job with a single group carrying a
// notice, so the protocol round trip stays exercisable end to end.
type PlaceholderRunner struct{}

// NewPlaceholderRunner returns a RunnerFactory for placeholder slots.
func NewPlaceholderRunner() RunnerFactory {
	return func() (Runner, error) { return PlaceholderRunner{}, nil }
}

func (PlaceholderRunner) Run(ctx context.Context, job Job, emit func(Update)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	notice := "no computation backend attached"
	emit(Update{
		Complete: true,
		Results: &coms.ResultsElement{
			Name:   "results",
			Title:  job.Analysis.Name(),
			Status: coms.AnalysisComplete,
			Group: &coms.ResultsGroup{Elements: []*coms.ResultsElement{{
				Name:         "notice",
				Status:       coms.AnalysisComplete,
				Preformatted: &notice,
			}}},
		},
	})
	return nil
}

func (PlaceholderRunner) Close() error { return nil }

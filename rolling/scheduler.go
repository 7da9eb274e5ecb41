// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rolling

import (
	"context"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/constraints"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/estimation"
	"github.com/penny-vault/pv-optimal/observability/opentelemetry"
	"github.com/penny-vault/pv-optimal/optimizer"
	"github.com/penny-vault/pv-optimal/tradecron"
)

// Estimator produces a point-in-time estimate from prices dated strictly
// before asOf. Both estimation.Engine and estimation.CachedEngine satisfy it.
type Estimator interface {
	Estimate(prices *dataframe.DataFrame, asOf time.Time) (*estimation.Estimate, error)
}

// Options controls how a Scheduler runs
type Options struct {
	// Workers is the number of rebalancing dates computed concurrently;
	// values below one use every CPU
	Workers int

	// RescaleOnExclusion scales the upper bounds of the remaining assets
	// when some assets are excluded at a date
	RescaleOnExclusion bool
}

func DefaultOptions() Options {
	return Options{
		Workers:            1,
		RescaleOnExclusion: true,
	}
}

// Scheduler walks a rebalancing schedule forward in time, estimating and
// solving independently at every date
type Scheduler struct {
	estimator   Estimator
	solver      optimizer.Solver
	constraints *constraints.Set
	schedule    *tradecron.TradeCron
	opts        Options
}

// dateResult is the outcome of one rebalancing date
type dateResult struct {
	date     time.Time
	assets   []string
	weights  []float64
	excluded []string
	err      error
}

// New validates the constraint set and returns a scheduler. Configuration
// errors are returned here so no date is processed with a malformed set.
func New(estimator Estimator, solver optimizer.Solver, cs *constraints.Set, schedule *tradecron.TradeCron, opts Options) (*Scheduler, error) {
	if estimator == nil || solver == nil || schedule == nil {
		return nil, ErrIncompleteScheduler
	}
	if err := cs.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid constraint set")
		return nil, err
	}

	if opts.Workers < 1 {
		opts.Workers = runtime.NumCPU()
	}

	return &Scheduler{
		estimator:   estimator,
		solver:      solver,
		constraints: cs,
		schedule:    schedule,
		opts:        opts,
	}, nil
}

// Dates returns the rebalancing dates for the price index
func (s *Scheduler) Dates(prices *dataframe.DataFrame) []time.Time {
	return s.schedule.Filter(prices.Dates)
}

// Run computes the weight history for prices. Failed dates before the first
// success are skipped; later failures repeat the previous weights. Both are
// recorded in the diagnostics. When ctx is cancelled Run returns the
// context's error and no result.
func (s *Scheduler) Run(ctx context.Context, prices *dataframe.DataFrame) (*Result, error) {
	runID := uuid.New()
	logger := log.With().Str("RunID", runID.String()).Str("Objective", s.solver.Objective().String()).Logger()

	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "rolling.Run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("RunID", runID.String()),
			attribute.String("Objective", s.solver.Objective().String()),
		))
	defer span.End()

	if err := prices.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid price history")
		return nil, err
	}
	for _, name := range prices.ColNames {
		if !contains(s.constraints.Assets, name) {
			err := common.Errorf(common.KindInvalidConstraint, "asset %s has no constraints", name)
			span.RecordError(err)
			span.SetStatus(codes.Error, "asset without constraints")
			return nil, err
		}
	}

	universe, err := s.constraints.Restrict(prices.ColNames, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "constraints do not cover prices")
		return nil, err
	}

	dates := s.Dates(prices)
	span.SetAttributes(attribute.Int("NumDates", len(dates)))
	logger.Info().Int("NumDates", len(dates)).Int("NumAssets", prices.ColCount()).Int("Workers", s.opts.Workers).Msg("starting backtest")

	results := make([]*dateResult, len(dates))
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(s.opts.Workers)
	for idx, date := range dates {
		idx, date := idx, date
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			results[idx] = s.rebalance(grpCtx, prices, universe, date, logger)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backtest cancelled")
		logger.Warn().Err(err).Msg("backtest cancelled")
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := assemble(runID, s.solver.Objective(), prices.ColNames, results)
	if res.History.Len() == 0 {
		err := common.Errorf(common.KindInsufficientData, "none of the %d rebalancing dates produced weights", len(dates))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no weights")
		return nil, err
	}

	logger.Info().Int("NumRebalances", res.History.Len()).Int("NumDiagnostics", len(res.Diagnostics)).Msg("backtest complete")
	return res, nil
}

// rebalance estimates and solves a single date
func (s *Scheduler) rebalance(ctx context.Context, prices *dataframe.DataFrame, universe *constraints.Set, date time.Time, logger zerolog.Logger) *dateResult {
	_, span := otel.Tracer(opentelemetry.Name).Start(ctx, "rolling.rebalance",
		trace.WithAttributes(attribute.String("Date", date.Format(common.DateFormat))))
	defer span.End()

	res := &dateResult{date: date}
	fail := func(err error) *dateResult {
		res.err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, common.KindOf(err).String())
		logger.Debug().Err(err).Time("Date", date).Str("Kind", common.KindOf(err).String()).Msg("rebalance failed")
		return res
	}

	est, err := s.estimator.Estimate(prices, date)
	if err != nil {
		return fail(err)
	}
	res.excluded = est.Excluded

	cs, err := universe.Restrict(est.Assets, s.opts.RescaleOnExclusion)
	if err != nil {
		return fail(err)
	}

	weights, err := s.solver.Solve(est, cs)
	if err != nil {
		return fail(err)
	}

	res.assets = est.Assets
	res.weights = weights
	span.SetAttributes(attribute.Int("NumAssets", len(est.Assets)), attribute.Float64("Shrinkage", est.Shrinkage))
	return res
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

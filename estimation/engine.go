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

package estimation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/penny-vault/pv-optimal/common"
	"github.com/penny-vault/pv-optimal/dataframe"
	"github.com/penny-vault/pv-optimal/tradecron"
)

type ExpectedReturns string

const (
	MeanReturns      ExpectedReturns = "mean"
	GeometricReturns ExpectedReturns = "geometric"

	// MomentumReturns replaces expected returns with a cross-sectional
	// score of each asset's volatility adjusted trailing return. Scores are
	// unitless and are not annualized.
	MomentumReturns ExpectedReturns = "momentum"
)

type Reentry string

const (
	// Reenter includes an asset on any date it has enough history
	Reenter Reentry = "reenter"

	// PermanentExclusion drops an asset from every date after its price
	// history has a gap
	PermanentExclusion Reentry = "permanent_exclusion"
)

// Config controls how returns are sampled and how the covariance matrix is
// conditioned
type Config struct {
	MinObservations     int
	ConditionThreshold  float64
	Shrinkage           float64
	VarianceFloor       float64
	SqueezeFactor       float64
	AnnualizationFactor float64
	LogReturns          bool
	ReturnsFrequency    dataframe.Frequency
	ExpectedReturns     ExpectedReturns
	Reentry             Reentry
}

// Estimate is the result of a point-in-time estimation. It must be treated
// as read-only since estimates may be shared through a cache.
type Estimate struct {
	AsOf                time.Time
	Assets              []string
	Excluded            []string
	Covariance          *mat.SymDense
	ExpectedReturns     []float64
	Observations        int
	Shrinkage           float64
	AnnualizationFactor float64

	// Returns holds the sampled returns of the active assets used to build
	// the estimate
	Returns *dataframe.DataFrame
}

type Engine struct {
	policy   Policy
	cfg      Config
	schedule *tradecron.TradeCron
}

func DefaultConfig() Config {
	return Config{
		MinObservations:     20,
		ConditionThreshold:  1e6,
		Shrinkage:           0.1,
		VarianceFloor:       1e-8,
		SqueezeFactor:       0,
		AnnualizationFactor: 1,
		LogReturns:          false,
		ReturnsFrequency:    dataframe.Daily,
		ExpectedReturns:     MeanReturns,
		Reentry:             Reenter,
	}
}

func (cfg Config) Validate() error {
	switch {
	case cfg.MinObservations < 1:
		return fmt.Errorf("%w: min_observations must be >= 1", ErrInvalidConfig)
	case !(cfg.ConditionThreshold > 1):
		return fmt.Errorf("%w: condition_threshold must be > 1", ErrInvalidConfig)
	case !(cfg.Shrinkage > 0 && cfg.Shrinkage <= 1):
		return fmt.Errorf("%w: shrinkage must be in (0, 1]", ErrInvalidConfig)
	case !(cfg.VarianceFloor > 0):
		return fmt.Errorf("%w: variance_floor must be > 0", ErrInvalidConfig)
	case !(cfg.SqueezeFactor >= 0 && cfg.SqueezeFactor <= 1):
		return fmt.Errorf("%w: squeeze_factor must be in [0, 1]", ErrInvalidConfig)
	case !(cfg.AnnualizationFactor > 0):
		return fmt.Errorf("%w: annualization_factor must be > 0", ErrInvalidConfig)
	}

	switch cfg.ExpectedReturns {
	case MeanReturns, GeometricReturns, MomentumReturns:
	default:
		return fmt.Errorf("%w: unknown expected returns method %q", ErrInvalidConfig, cfg.ExpectedReturns)
	}

	switch cfg.Reentry {
	case Reenter, PermanentExclusion:
	default:
		return fmt.Errorf("%w: unknown reentry policy %q", ErrInvalidConfig, cfg.Reentry)
	}

	return nil
}

// NewEngine creates an estimation engine for the given policy
func NewEngine(policy Policy, cfg Config) (*Engine, error) {
	if policy == nil {
		return nil, fmt.Errorf("%w: policy is required", ErrInvalidPolicy)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		policy: policy,
		cfg:    cfg,
	}

	freq := strings.TrimSpace(string(cfg.ReturnsFrequency))
	if freq != "" && dataframe.Frequency(freq).Spec() != tradecron.AtDaily {
		schedule, err := dataframe.Frequency(freq).Schedule()
		if err != nil {
			return nil, fmt.Errorf("%w: returns_frequency: %s", ErrInvalidConfig, err)
		}
		e.schedule = schedule
	}

	return e, nil
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Key uniquely identifies the engine's settings; it is used to build cache keys
func (e *Engine) Key() string {
	return fmt.Sprintf("%s|%+v", e.policy, e.cfg)
}

// Estimate computes the covariance matrix and expected returns using only
// prices dated strictly before asOf.
func (e *Engine) Estimate(prices *dataframe.DataFrame, asOf time.Time) (*Estimate, error) {
	hist := prices.Before(asOf)
	if e.schedule != nil {
		hist = hist.Resample(e.schedule)
	}

	rets := hist.Returns(e.cfg.LogReturns)
	if window := e.policy.Window(); window > 0 && rets.Len() > window {
		rets = rets.Trim(rets.Dates[rets.Len()-window], rets.End())
	}

	required := e.policy.Required(e.cfg.MinObservations)
	counts := rets.ValidCount()

	est := &Estimate{
		AsOf:                asOf,
		Assets:              make([]string, 0, len(rets.ColNames)),
		Excluded:            make([]string, 0),
		AnnualizationFactor: e.cfg.AnnualizationFactor,
	}

	active := make([]int, 0, len(rets.ColNames))
	for colIdx, name := range rets.ColNames {
		eligible := counts[colIdx] >= required
		if eligible && e.cfg.Reentry == PermanentExclusion && hasGap(hist.Vals[colIdx]) {
			eligible = false
		}
		if eligible {
			active = append(active, colIdx)
			est.Assets = append(est.Assets, name)
		} else {
			est.Excluded = append(est.Excluded, name)
		}
	}

	if len(active) == 0 {
		return nil, common.Errorf(common.KindInsufficientData, "no asset has %d valid returns before %s", required, asOf.Format(common.DateFormat))
	}

	est.Returns = rets.Select(est.Assets...)
	weights := e.policy.Weights(rets.Len())

	est.Observations = rets.Len()
	for _, colIdx := range active {
		if counts[colIdx] < est.Observations {
			est.Observations = counts[colIdx]
		}
	}

	cov, means := covariance(est.Returns, weights)
	switch e.cfg.ExpectedReturns {
	case GeometricReturns:
		est.ExpectedReturns = geometricMeans(est.Returns, e.cfg.LogReturns)
	case MomentumReturns:
		est.ExpectedReturns = momentumScores(means, cov)
	default:
		est.ExpectedReturns = means
	}

	if e.cfg.AnnualizationFactor != 1 {
		cov.ScaleSym(e.cfg.AnnualizationFactor, cov)
		if e.cfg.ExpectedReturns != MomentumReturns {
			for idx := range est.ExpectedReturns {
				est.ExpectedReturns[idx] *= e.cfg.AnnualizationFactor
			}
		}
	}

	if e.cfg.SqueezeFactor > 0 {
		cov = squeeze(cov, e.cfg.SqueezeFactor)
	}

	est.Covariance, est.Shrinkage = condition(cov, est.Observations, e.cfg)

	log.Debug().Time("AsOf", asOf).Int("NumAssets", len(est.Assets)).Int("NumExcluded", len(est.Excluded)).
		Int("Observations", est.Observations).Float64("Shrinkage", est.Shrinkage).Str("Policy", e.policy.String()).Msg("estimated covariance")

	return est, nil
}

// hasGap reports whether a missing value follows the first valid value
func hasGap(prices []float64) bool {
	started := false
	for _, p := range prices {
		valid := !math.IsNaN(p)
		if started && !valid {
			return true
		}
		started = started || valid
	}
	return false
}

// covariance computes the weighted covariance matrix and weighted means of
// the columns of rets. Each pair of assets uses only the rows where both
// are observed and the weights are normalized by the mass actually present.
// The estimate is bias corrected with (sum w)^2 / ((sum w)^2 - sum w^2) which
// reduces to the n-1 sample covariance for equal weights.
func covariance(rets *dataframe.DataFrame, weights []float64) (*mat.SymDense, []float64) {
	n := rets.ColCount()
	means := make([]float64, n)
	for idx, col := range rets.Vals {
		var sw, sx float64
		for row, x := range col {
			if math.IsNaN(x) {
				continue
			}
			sw += weights[row]
			sx += weights[row] * x
		}
		means[idx] = sx / sw
	}

	if complete(rets) && uniform(weights) && rets.Len() > 1 {
		x := mat.NewDense(rets.Len(), n, nil)
		for colIdx, col := range rets.Vals {
			x.SetCol(colIdx, col)
		}
		cov := mat.NewSymDense(n, nil)
		stat.CovarianceMatrix(cov, x, nil)
		return cov, means
	}

	cov := mat.NewSymDense(n, nil)
	for ii := 0; ii < n; ii++ {
		for jj := ii; jj < n; jj++ {
			var sw, sw2, sxy float64
			xi := rets.Vals[ii]
			xj := rets.Vals[jj]
			for row := range xi {
				if math.IsNaN(xi[row]) || math.IsNaN(xj[row]) {
					continue
				}
				w := weights[row]
				sw += w
				sw2 += w * w
				sxy += w * (xi[row] - means[ii]) * (xj[row] - means[jj])
			}
			denom := sw*sw - sw2
			val := 0.0
			if denom > 0 {
				val = sxy * sw / denom
			}
			cov.SetSym(ii, jj, val)
		}
	}

	return cov, means
}

func complete(df *dataframe.DataFrame) bool {
	for _, col := range df.Vals {
		for _, x := range col {
			if math.IsNaN(x) {
				return false
			}
		}
	}
	return true
}

func uniform(weights []float64) bool {
	for _, w := range weights {
		if w != weights[0] {
			return false
		}
	}
	return true
}

// geometricMeans returns the per-period compounded growth rate of each column
func geometricMeans(rets *dataframe.DataFrame, logReturns bool) []float64 {
	means := make([]float64, rets.ColCount())
	for idx, col := range rets.Vals {
		var sum float64
		var cnt int
		for _, x := range col {
			if math.IsNaN(x) {
				continue
			}
			if logReturns {
				sum += x
			} else {
				sum += math.Log1p(x)
			}
			cnt++
		}
		g := sum / float64(cnt)
		if logReturns {
			means[idx] = g
		} else {
			means[idx] = math.Expm1(g)
		}
	}
	return means
}

// momentumScores standardizes mean / volatility across assets. A single
// asset, or assets that all score the same, get a score of zero.
func momentumScores(means []float64, cov *mat.SymDense) []float64 {
	ra := make([]float64, len(means))
	for idx, mu := range means {
		if sd := math.Sqrt(cov.At(idx, idx)); sd > 0 {
			ra[idx] = mu / sd
		}
	}

	scores := make([]float64, len(means))
	if len(ra) < 2 {
		return scores
	}
	mean, std := stat.MeanStdDev(ra, nil)
	if !(std > 0) {
		return scores
	}
	for idx, x := range ra {
		scores[idx] = (x - mean) / std
	}
	return scores
}

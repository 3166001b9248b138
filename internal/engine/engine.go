package engine

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/yungbote/phenoscope-backend/internal/apperr"
	"github.com/yungbote/phenoscope-backend/internal/expr"
	"github.com/yungbote/phenoscope-backend/internal/logger"
	"github.com/yungbote/phenoscope-backend/internal/types"
)

const (
	// Above this sample count the Student-t is indistinguishable from the
	// normal; use the cheaper survival function.
	normalCutoverN = 5000

	// Variant indexes are processed in fixed chunks. Each chunk writes only
	// its own preallocated output range, so parallel execution stays
	// bit-deterministic.
	variantChunk = 2048

	// Floor for 1-r^2 so a loading vector parallel to the projected
	// phenotype yields a huge finite t statistic instead of dividing by zero.
	minResidualFraction = 1e-12
)

// Engine derives per-variant approximate association statistics from a
// standardized phenotype vector and a cohort's precomputed summary bundle.
// Cost is O(n*k + v*k); no per-individual genotype data is touched.
type Engine struct {
	log         *logger.Logger
	invocations atomic.Int64
}

func New(baseLog *logger.Logger) *Engine {
	return &Engine{log: baseLog.With("component", "ApproximationEngine")}
}

// Invocations returns how many computations have been started. The cache
// coherence tests assert on this counter.
func (e *Engine) Invocations() int64 { return e.invocations.Load() }

// Compute projects the phenotype onto the cohort basis and derives beta,
// standard error and p-value per variant, plus global diagnostics. The
// context is consulted at coarse checkpoints (before the projection, before
// the variant loop, per chunk inside it); deadline expiry and cancellation
// surface as ComputationTimeout and Cancelled.
func (e *Engine) Compute(ctx context.Context, ref *types.CohortReference, phen *expr.Vector, fingerprint string) (*types.ApproximationResult, error) {
	e.invocations.Add(1)
	start := time.Now()

	if len(phen.Values) != ref.N {
		return nil, apperr.New(apperr.KindNumericInstability,
			"phenotype length %d does not match cohort sample count %d", len(phen.Values), ref.N)
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	// Standardize: y' = (y - mean) / std. Zero std was rejected upstream.
	yprime := make([]float64, ref.N)
	for i, v := range phen.Values {
		yprime[i] = (v - phen.Mean) / phen.Std
	}

	// c = B^T y', the single dense step. Its cost is independent of the
	// number of variants.
	c := make([]float64, ref.K)
	cv := mat.NewVecDense(ref.K, c)
	cv.MulVec(ref.Basis.T(), mat.NewVecDense(ref.N, yprime))

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}

	// For a standardized vector ||y'||^2 = n; the basis is orthonormal, so
	// what the projection failed to capture is n - ||c||^2.
	captured := floats.Dot(c, c)
	residual := math.Sqrt(math.Max(0, float64(ref.N)-captured))

	assocs := make([]types.VariantAssociation, len(ref.Variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < len(ref.Variants); lo += variantChunk {
		hi := lo + variantChunk
		if hi > len(ref.Variants) {
			hi = len(ref.Variants)
		}
		lo, hi := lo, hi
		g.Go(func() error {
			if err := checkpoint(gctx); err != nil {
				return err
			}
			e.scoreChunk(ref, phen, c, assocs, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tstats := make([]float64, 0, len(assocs))
	for i := range assocs {
		a := &assocs[i]
		if a.Undefined {
			continue
		}
		if !finite(a.Beta) || !finite(a.SE) || !finite(a.PValue) {
			return nil, apperr.New(apperr.KindNumericInstability,
				"variant %s produced a non-finite statistic", a.VariantID)
		}
		if a.SE > 0 {
			t := a.Beta / a.SE
			tstats = append(tstats, t*t)
		}
	}

	inflation, err := inflationFactor(tstats)
	if err != nil {
		return nil, apperr.New(apperr.KindNumericInstability, "inflation factor: %v", err)
	}

	result := &types.ApproximationResult{
		CohortID:        ref.CohortID,
		Fingerprint:     fingerprint,
		SampleCount:     ref.N,
		Associations:    assocs,
		ResidualNorm:    residual,
		InflationFactor: inflation,
		ElapsedMillis:   time.Since(start).Milliseconds(),
	}
	e.log.Debug("Computation finished",
		"cohort_id", ref.CohortID,
		"variants", len(assocs),
		"inflation", inflation,
		"elapsed_ms", result.ElapsedMillis,
	)
	return result, nil
}

// scoreChunk fills assocs[lo:hi]. Pure function of immutable inputs; safe to
// run chunks concurrently.
func (e *Engine) scoreChunk(ref *types.CohortReference, phen *expr.Vector, c []float64, assocs []types.VariantAssociation, lo, hi int) {
	n := float64(ref.N)
	var dist interface{ Survival(float64) float64 }
	if ref.N >= normalCutoverN {
		dist = distuv.UnitNormal
	} else {
		dist = distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}
	}

	for j := lo; j < hi; j++ {
		v := &ref.Variants[j]
		a := &assocs[j]
		a.VariantID = v.ID
		a.Chrom = v.Chrom
		a.Pos = v.Pos

		if v.DosageVariance == 0 {
			a.Undefined = true
			continue
		}

		loadNorm := floats.Norm(v.Loadings, 2)
		var r float64
		if loadNorm > 0 {
			r = floats.Dot(v.Loadings, c) / (loadNorm * math.Sqrt(n))
		}
		// Clamp against floating-point drift past +/-1.
		if r > 1 {
			r = 1
		} else if r < -1 {
			r = -1
		}

		sd := math.Sqrt(v.DosageVariance)
		resid := 1 - r*r
		if resid < minResidualFraction {
			resid = minResidualFraction
		}

		a.Beta = r * phen.Std / sd
		a.SE = math.Sqrt(resid/(n-2)) * phen.Std / sd
		t := a.Beta / a.SE
		p := 2 * dist.Survival(math.Abs(t))
		if p > 1 {
			p = 1
		} else if p < 0 {
			p = 0
		}
		a.PValue = p
	}
}

func checkpoint(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindComputationTimeout, err)
	default:
		return apperr.Wrap(apperr.KindCancelled, err)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

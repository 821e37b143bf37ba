package omori

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aftershock-omori/internal/sequence"
)

func synthetic(params Params, days int) (t, y []float64) {
	t = make([]float64, days)
	y = make([]float64, days)
	for i := range t {
		t[i] = float64(i + 1)
		y[i] = Rate(t[i], params)
	}
	return t, y
}

func TestFitSeries_RecoversExactParameters(t *testing.T) {
	cases := []Params{
		{K: 150, C: 0.8, P: 1.2},
		{K: 40, C: 0.05, P: 0.9},
		{K: 900, C: 2.5, P: 1.4},
	}

	for _, want := range cases {
		t.Run(want.String(), func(t *testing.T) {
			ts, ys := synthetic(want, 40)

			sol, err := FitSeries(context.Background(), ts, ys, DefaultOptions())
			require.NoError(t, err)

			assert.InEpsilon(t, want.K, sol.Params.K, 1e-4)
			assert.InEpsilon(t, want.C, sol.Params.C, 1e-4)
			assert.InEpsilon(t, want.P, sol.Params.P, 1e-4)
			assert.InDelta(t, 1.0, sol.RSquared, 1e-9)
			assert.InDelta(t, 1.0, sol.Correlation, 1e-9)
			assert.True(t, sol.CorrelationDefined)
			assert.Less(t, sol.PValue, 1e-6)
			assert.LessOrEqual(t, sol.Evaluations, DefaultOptions().MaxEvaluations)
			assert.Equal(t, DomainPositive, sol.Domain)
		})
	}
}

func TestFitSeries_UnconstrainedRecoversExactParameters(t *testing.T) {
	want := Params{K: 150, C: 0.8, P: 1.2}
	ts, ys := synthetic(want, 30)

	opts := DefaultOptions()
	opts.Domain = DomainUnconstrained
	sol, err := FitSeries(context.Background(), ts, ys, opts)
	require.NoError(t, err)

	assert.InEpsilon(t, want.K, sol.Params.K, 1e-4)
	assert.InEpsilon(t, want.C, sol.Params.C, 1e-4)
	assert.InEpsilon(t, want.P, sol.Params.P, 1e-4)
	assert.Equal(t, DomainUnconstrained, sol.Domain)
}

func TestFit_RoundedCounts(t *testing.T) {
	want := Params{K: 1000, C: 0.5, P: 1.1}
	bins := make([]sequence.DailyBin, 60)
	for i := range bins {
		bins[i] = sequence.DailyBin{Day: i, Count: int(math.Round(Rate(float64(i+1), want)))}
	}

	res, err := Fit(context.Background(), bins, DefaultOptions())
	require.NoError(t, err)

	assert.InDelta(t, want.P, res.Params.P, 0.05)
	assert.Greater(t, res.RSquared, 0.99)
	require.Len(t, res.Bins, len(bins))
	require.Len(t, res.StdErr, 3)
	for _, se := range res.StdErr {
		assert.False(t, math.IsNaN(se))
		assert.GreaterOrEqual(t, se, 0.0)
	}

	for i, fb := range res.Bins {
		assert.Equal(t, bins[i], fb.DailyBin)
		assert.InDelta(t, Rate(fb.FitDay(), res.Params), fb.Predicted, 1e-9)
		assert.InDelta(t, float64(fb.Count)-fb.Predicted, fb.Residual, 1e-9)
	}
}

func TestFit_ScenarioSeries(t *testing.T) {
	bins := []sequence.DailyBin{
		{Day: 1, Count: 2},
		{Day: 2, Count: 1},
		{Day: 3, Count: 3},
		{Day: 4, Count: 0},
		{Day: 5, Count: 1},
	}

	res, err := Fit(context.Background(), bins, DefaultOptions())
	if err != nil {
		require.ErrorIs(t, err, ErrFitFailed)
		return
	}
	require.Len(t, res.Bins, 5)
	assert.Equal(t, Params{K: 6, C: 0.1, P: 1}, res.Initial)
	assert.False(t, math.IsNaN(res.RSquared))
	assert.LessOrEqual(t, res.RSquared, 1.0)
}

func TestFit_InsufficientData(t *testing.T) {
	cases := map[string][]sequence.DailyBin{
		"empty":          nil,
		"two bins":       {{Day: 1, Count: 1}, {Day: 2, Count: 1}},
		"two with a gap": {{Day: 1, Count: 1}, {Day: 2, Count: 0}, {Day: 3, Count: 1}},
	}

	for name, bins := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Fit(context.Background(), bins, DefaultOptions())
			require.ErrorIs(t, err, ErrInsufficientData)
			assert.NotErrorIs(t, err, ErrFitFailed)

			var insufficient *InsufficientDataError
			require.True(t, errors.As(err, &insufficient))
			assert.Equal(t, MinBins, insufficient.Required)
			assert.Less(t, insufficient.Observed, MinBins)
		})
	}
}

func TestFit_MinBinsCanBeRaisedNotLowered(t *testing.T) {
	bins := []sequence.DailyBin{{Day: 0, Count: 9}, {Day: 1, Count: 4}, {Day: 2, Count: 3}}

	opts := DefaultOptions()
	opts.MinBins = 1
	_, err := Fit(context.Background(), bins, opts)
	assert.NotErrorIs(t, err, ErrInsufficientData)

	opts.MinBins = 5
	_, err = Fit(context.Background(), bins, opts)
	var insufficient *InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Required)
	assert.Equal(t, 3, insufficient.Observed)
}

func TestFit_IdenticalCountsNeverPanics(t *testing.T) {
	bins := []sequence.DailyBin{{Day: 0, Count: 5}, {Day: 1, Count: 5}, {Day: 2, Count: 5}}

	for _, domain := range []Domain{DomainPositive, DomainUnconstrained} {
		t.Run(string(domain), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Domain = domain

			var (
				res Result
				err error
			)
			require.NotPanics(t, func() {
				res, err = Fit(context.Background(), bins, opts)
			})
			if err != nil {
				assert.ErrorIs(t, err, ErrFitFailed)
				return
			}
			assert.Equal(t, 0.0, res.RSquared)
			assert.False(t, res.CorrelationDefined)
			for _, v := range []float64{res.Params.K, res.Params.C, res.Params.P} {
				assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
			}
		})
	}
}

func TestFit_EvaluationBudgetExhausted(t *testing.T) {
	ts, ys := synthetic(Params{K: 150, C: 0.8, P: 1.2}, 30)

	opts := DefaultOptions()
	opts.MaxEvaluations = 2
	_, err := FitSeries(context.Background(), ts, ys, opts)
	require.ErrorIs(t, err, ErrNotConverged)
	require.ErrorIs(t, err, ErrFitFailed)
	assert.NotErrorIs(t, err, ErrSingular)

	var fitErr *FitError
	require.ErrorAs(t, err, &fitErr)
	assert.Equal(t, ReasonNotConverged, fitErr.Reason)
	assert.Equal(t, 2, fitErr.Evaluations)
}

func TestFit_SingularJacobian(t *testing.T) {
	ts := []float64{1, 2, 3, 4}
	ys := []float64{3, 2, 1, 1}

	// With k = 0 every derivative except d/dk vanishes.
	opts := DefaultOptions()
	opts.Domain = DomainUnconstrained
	opts.Initial = &Params{K: 0, C: 0.1, P: 1}

	_, err := FitSeries(context.Background(), ts, ys, opts)
	require.ErrorIs(t, err, ErrSingular)
	require.ErrorIs(t, err, ErrFitFailed)
}

func TestFit_InitialGuessOutsideDomain(t *testing.T) {
	ts, ys := synthetic(Params{K: 10, C: 1, P: 1}, 5)

	opts := DefaultOptions()
	opts.Initial = &Params{K: 10, C: -0.5, P: 1}
	_, err := FitSeries(context.Background(), ts, ys, opts)
	require.ErrorIs(t, err, ErrFitFailed)
}

func TestFit_ContextCanceled(t *testing.T) {
	ts, ys := synthetic(Params{K: 150, C: 0.8, P: 1.2}, 30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FitSeries(ctx, ts, ys, DefaultOptions())
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, ErrFitFailed)

	var fitErr *FitError
	require.ErrorAs(t, err, &fitErr)
	assert.Equal(t, ReasonCanceled, fitErr.Reason)
}

func TestFitSeries_LengthMismatch(t *testing.T) {
	_, err := FitSeries(context.Background(), []float64{1, 2, 3}, []float64{1, 2}, DefaultOptions())
	require.Error(t, err)
}

func TestFitSeries_StdErrNilWithoutResidualFreedom(t *testing.T) {
	ts, ys := synthetic(Params{K: 20, C: 0.5, P: 1.1}, 3)

	sol, err := FitSeries(context.Background(), ts, ys, DefaultOptions())
	require.NoError(t, err)
	assert.Nil(t, sol.StdErr)
}

func TestInitialGuess(t *testing.T) {
	opts := DefaultOptions()
	assert.Equal(t, Params{K: 14, C: 0.1, P: 1}, opts.InitialGuess([]float64{3, 7, 1}))

	opts.KFactor = 3
	opts.InitialC = 0.5
	opts.InitialP = 1.2
	assert.Equal(t, Params{K: 21, C: 0.5, P: 1.2}, opts.InitialGuess([]float64{3, 7, 1}))

	opts.Initial = &Params{K: 1, C: 2, P: 3}
	assert.Equal(t, Params{K: 1, C: 2, P: 3}, opts.InitialGuess([]float64{3, 7, 1}))
}

func TestParseDomain(t *testing.T) {
	d, err := ParseDomain("")
	require.NoError(t, err)
	assert.Equal(t, DomainPositive, d)

	d, err = ParseDomain("unconstrained")
	require.NoError(t, err)
	assert.Equal(t, DomainUnconstrained, d)

	_, err = ParseDomain("box")
	assert.Error(t, err)
}

func TestRate(t *testing.T) {
	p := Params{K: 100, C: 1, P: 2}
	assert.InDelta(t, 25.0, Rate(1, p), 1e-12)
	assert.InDelta(t, 100.0/9, Rate(2, p), 1e-12)
	assert.Equal(t, "n(t) = 100.0/(1.000+t)^2.000", p.String())
}

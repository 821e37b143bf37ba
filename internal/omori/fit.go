package omori

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"aftershock-omori/internal/sequence"
)

const (
	// MinBins is the hard floor of observed day bins: three free parameters
	// cannot be fitted from fewer points.
	MinBins = 3

	defaultMaxEvaluations = 10000
	defaultTolerance      = 1.49012e-8

	initialDamping = 1e-3
	maxDamping     = 1e32
	dampingFloor   = 1e-12
)

// Options tune the optimizer.
type Options struct {
	// KFactor scales the largest observed count into the initial amplitude.
	KFactor float64
	// InitialC and InitialP seed the time offset and decay exponent.
	InitialC float64
	InitialP float64
	// Initial overrides the heuristic starting point entirely when set.
	Initial *Params

	// MinBins raises the observed-bin floor above MinBins; lower values are ignored.
	MinBins        int
	MaxEvaluations int
	FTol           float64
	XTol           float64
	Domain         Domain
}

// DefaultOptions returns the starting heuristics tuned for typical aftershock
// decay: k0 = 2·max(count), c0 = 0.1, p0 = 1.0.
func DefaultOptions() Options {
	return Options{
		KFactor:        2,
		InitialC:       0.1,
		InitialP:       1.0,
		MinBins:        MinBins,
		MaxEvaluations: defaultMaxEvaluations,
		FTol:           defaultTolerance,
		XTol:           defaultTolerance,
		Domain:         DomainPositive,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.KFactor <= 0 {
		o.KFactor = def.KFactor
	}
	if o.InitialC == 0 {
		o.InitialC = def.InitialC
	}
	if o.InitialP == 0 {
		o.InitialP = def.InitialP
	}
	if o.MinBins < MinBins {
		o.MinBins = MinBins
	}
	if o.MaxEvaluations <= 0 {
		o.MaxEvaluations = def.MaxEvaluations
	}
	if o.FTol <= 0 {
		o.FTol = def.FTol
	}
	if o.XTol <= 0 {
		o.XTol = def.XTol
	}
	if o.Domain == "" {
		o.Domain = def.Domain
	}
	return o
}

// InitialGuess returns the optimizer starting point for the observations y.
func (o Options) InitialGuess(y []float64) Params {
	o = o.withDefaults()
	if o.Initial != nil {
		return *o.Initial
	}
	return Params{K: o.KFactor * floats.Max(y), C: o.InitialC, P: o.InitialP}
}

// Solution is the outcome of fitting an arbitrary (t, y) series.
type Solution struct {
	Params    Params
	Initial   Params
	Domain    Domain
	Predicted []float64
	Residuals []float64 // actual - predicted

	SSR                float64
	RSquared           float64
	Correlation        float64
	PValue             float64
	CorrelationDefined bool

	// StdErr holds the standard errors of k, c and p. Nil when the residual
	// degrees of freedom are zero.
	StdErr      []float64
	Evaluations int
	Iterations  int
}

// FittedBin pairs a day bin with the model prediction.
type FittedBin struct {
	sequence.DailyBin
	Predicted float64
	Residual  float64
}

// Result is the fit of a daily aftershock series.
type Result struct {
	Solution
	Bins []FittedBin
}

// Fit fits the daily series to the Omori law, using FitDay as t.
func Fit(ctx context.Context, bins []sequence.DailyBin, opts Options) (Result, error) {
	t := make([]float64, len(bins))
	y := make([]float64, len(bins))
	for i, b := range bins {
		t[i] = b.FitDay()
		y[i] = float64(b.Count)
	}

	sol, err := FitSeries(ctx, t, y, opts)
	if err != nil {
		return Result{}, err
	}

	fitted := make([]FittedBin, len(bins))
	for i, b := range bins {
		fitted[i] = FittedBin{DailyBin: b, Predicted: sol.Predicted[i], Residual: sol.Residuals[i]}
	}
	return Result{Solution: sol, Bins: fitted}, nil
}

// FitSeries minimises the sum of squared residuals between y and the Omori
// law evaluated at t. Points with y > 0 count as observed for the MinBins
// precondition.
func FitSeries(ctx context.Context, t, y []float64, opts Options) (Solution, error) {
	if len(t) != len(y) {
		return Solution{}, fmt.Errorf("omori: %d times but %d observations", len(t), len(y))
	}
	opts = opts.withDefaults()

	observed := 0
	for _, v := range y {
		if v > 0 {
			observed++
		}
	}
	if observed < opts.MinBins {
		return Solution{}, &InsufficientDataError{Observed: observed, Required: opts.MinBins}
	}

	p := newProblem(t, y, opts.Domain)
	initial := opts.InitialGuess(y)
	if !p.admits(initial) {
		return Solution{}, fmt.Errorf("%w: initial guess %s outside %s domain", ErrFitFailed, initial, opts.Domain)
	}

	state, err := p.minimize(ctx, initial, opts)
	if err != nil {
		return Solution{}, err
	}

	stdErr, err := p.standardErrors(state)
	if err != nil {
		return Solution{}, err
	}

	residuals := make([]float64, len(y))
	floats.SubTo(residuals, y, state.pred)
	r2 := RSquared(y, state.pred)
	corr, pValue, defined := Pearson(y, state.pred)

	return Solution{
		Params:             paramsFrom(state.beta),
		Initial:            initial,
		Domain:             opts.Domain,
		Predicted:          state.pred,
		Residuals:          residuals,
		SSR:                state.ssr,
		RSquared:           r2,
		Correlation:        corr,
		PValue:             pValue,
		CorrelationDefined: defined,
		StdErr:             stdErr,
		Evaluations:        state.evals,
		Iterations:         state.iters,
	}, nil
}

type problem struct {
	t, y   []float64
	minT   float64
	domain Domain
}

type lmState struct {
	beta  []float64
	pred  []float64
	ssr   float64
	evals int
	iters int
}

func newProblem(t, y []float64, domain Domain) *problem {
	return &problem{t: t, y: y, minT: floats.Min(t), domain: domain}
}

func (p *problem) admits(params Params) bool {
	return p.domain.admits(params, p.minT)
}

// evaluate returns the model predictions and the sum of squared residuals.
// The sum is +Inf when the prediction is not finite.
func (p *problem) evaluate(beta []float64) ([]float64, float64) {
	params := paramsFrom(beta)
	pred := make([]float64, len(p.t))
	ssr := 0.0
	for i, t := range p.t {
		pred[i] = Rate(t, params)
		d := p.y[i] - pred[i]
		ssr += d * d
	}
	if math.IsNaN(ssr) || math.IsInf(ssr, 0) {
		return pred, math.Inf(1)
	}
	return pred, ssr
}

func (p *problem) jacobian(beta []float64) *mat.Dense {
	params := paramsFrom(beta)
	j := mat.NewDense(len(p.t), 3, nil)
	for i, t := range p.t {
		dk, dc, dp := gradient(t, params)
		j.Set(i, 0, dk)
		j.Set(i, 1, dc)
		j.Set(i, 2, dp)
	}
	return j
}

// minimize runs Levenberg-Marquardt with Marquardt's diagonal scaling and
// Nielsen's damping update. Every trial point counts as one evaluation.
func (p *problem) minimize(ctx context.Context, initial Params, opts Options) (lmState, error) {
	beta := initial.vector()
	pred, ssr := p.evaluate(beta)
	state := lmState{beta: beta, pred: pred, ssr: ssr, evals: 1}
	if math.IsInf(ssr, 1) {
		return state, fmt.Errorf("%w: model undefined at initial guess %s", ErrFitFailed, initial)
	}

	jac := p.jacobian(beta)
	if rankDeficient(jac) {
		return state, p.fail(ReasonSingular, state, nil)
	}

	mu, nu := initialDamping, 2.0
	resid := mat.NewVecDense(len(p.y), nil)

	for {
		if err := ctx.Err(); err != nil {
			return state, p.fail(ReasonCanceled, state, err)
		}
		state.iters++

		for i := range p.y {
			resid.SetVec(i, p.y[i]-state.pred[i])
		}
		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var g mat.VecDense
		g.MulVec(jac.T(), resid)

		if mat.Norm(&g, math.Inf(1)) == 0 {
			return state, nil
		}

		diag := make([]float64, 3)
		for i := range diag {
			diag[i] = math.Max(jtj.At(i, i), dampingFloor)
		}

		delta, ok := solveDamped(&jtj, diag, mu, &g)
		if !ok {
			mu *= nu
			nu *= 2
			if mu > maxDamping {
				return state, p.fail(ReasonSingular, state, nil)
			}
			continue
		}

		if state.evals >= opts.MaxEvaluations {
			return state, p.fail(ReasonNotConverged, state, nil)
		}

		trial := make([]float64, 3)
		floats.AddTo(trial, state.beta, delta)
		trialPred, trialSSR := state.pred, math.Inf(1)
		if p.admits(paramsFrom(trial)) {
			trialPred, trialSSR = p.evaluate(trial)
		}
		state.evals++

		stepNorm, paramNorm := scaledNorm(delta, diag), scaledNorm(state.beta, diag)
		xtolHit := stepNorm <= opts.XTol*(paramNorm+opts.XTol)

		// Predicted reduction of the linearised model: δ·(g + μDδ).
		predicted := 0.0
		for i := range delta {
			predicted += delta[i] * (g.AtVec(i) + mu*diag[i]*delta[i])
		}
		actual := state.ssr - trialSSR

		if trialSSR < state.ssr {
			rho := actual / predicted
			ftolHit := actual <= opts.FTol*state.ssr && predicted <= opts.FTol*state.ssr

			state.beta, state.pred, state.ssr = trial, trialPred, trialSSR
			mu *= math.Max(1.0/3, 1-math.Pow(2*rho-1, 3))
			nu = 2

			if state.ssr == 0 || ftolHit || xtolHit {
				return state, nil
			}
			jac = p.jacobian(state.beta)
			continue
		}

		// Rejected: shrink the step. A step already below tolerance means
		// no admissible improvement is left.
		if xtolHit {
			return state, nil
		}
		mu *= nu
		nu *= 2
		if mu > maxDamping {
			return state, p.fail(ReasonNotConverged, state, nil)
		}
	}
}

func (p *problem) fail(reason Reason, state lmState, cause error) error {
	return &FitError{Reason: reason, Evaluations: state.evals, Last: paramsFrom(state.beta), Err: cause}
}

// standardErrors checks the Jacobian at the solution and derives parameter
// standard errors from the covariance estimate s²·(JᵀJ)⁻¹.
func (p *problem) standardErrors(state lmState) ([]float64, error) {
	jac := p.jacobian(state.beta)

	var svd mat.SVD
	if !svd.Factorize(jac, mat.SVDThin) {
		return nil, p.fail(ReasonSingular, state, errors.New("svd did not converge"))
	}
	values := svd.Values(nil)
	if singularValuesDeficient(values, jac) {
		return nil, p.fail(ReasonSingular, state, nil)
	}

	dof := len(p.y) - 3
	if dof <= 0 {
		return nil, nil
	}
	s2 := state.ssr / float64(dof)

	var v mat.Dense
	svd.VTo(&v)
	stdErr := make([]float64, 3)
	for i := 0; i < 3; i++ {
		variance := 0.0
		for k, sv := range values {
			vik := v.At(i, k)
			variance += vik * vik / (sv * sv)
		}
		stdErr[i] = math.Sqrt(variance * s2)
	}
	return stdErr, nil
}

// solveDamped solves (JᵀJ + μ·diag(D))δ = g.
func solveDamped(jtj *mat.SymDense, diag []float64, mu float64, g *mat.VecDense) ([]float64, bool) {
	a := mat.NewSymDense(3, nil)
	a.CopySym(jtj)
	for i, d := range diag {
		a.SetSym(i, i, a.At(i, i)+mu*d)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, false
	}
	var delta mat.VecDense
	if err := chol.SolveVecTo(&delta, g); err != nil {
		return nil, false
	}
	out := make([]float64, 3)
	for i := range out {
		out[i] = delta.AtVec(i)
		if math.IsNaN(out[i]) || math.IsInf(out[i], 0) {
			return nil, false
		}
	}
	return out, true
}

func scaledNorm(v, diag []float64) float64 {
	sum := 0.0
	for i := range v {
		x := v[i] * math.Sqrt(diag[i])
		sum += x * x
	}
	return math.Sqrt(sum)
}

func rankDeficient(j *mat.Dense) bool {
	var svd mat.SVD
	if !svd.Factorize(j, mat.SVDNone) {
		return true
	}
	return singularValuesDeficient(svd.Values(nil), j)
}

// singularValuesDeficient applies the numerical rank tolerance
// s_max · max(m, n) · ε.
func singularValuesDeficient(values []float64, j *mat.Dense) bool {
	if len(values) < 3 {
		return true
	}
	rows, cols := j.Dims()
	maxSV := values[0]
	minSV := values[len(values)-1]
	if maxSV == 0 || math.IsNaN(maxSV) || math.IsInf(maxSV, 0) {
		return true
	}
	tol := maxSV * float64(max(rows, cols)) * epsilon
	return minSV <= tol
}

const epsilon = 2.220446049250313e-16

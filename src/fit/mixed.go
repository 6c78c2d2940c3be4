package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/ThomasAkam/pyControl-hardware/src/calib"
	"github.com/ThomasAkam/pyControl-hardware/src/types"
)

// MixedModel holds the population level estimates of the hierarchical fit.
// Slope and Intercept are the fixed effects; the SDs describe how much
// individual pokes spread around them.
type MixedModel struct {
	Slope       float64 // fixed effect, ms per uL
	Intercept   float64 // fixed effect, ms
	SlopeSD     float64 // between-poke SD of the slope
	InterceptSD float64 // between-poke SD of the intercept
	Corr        float64 // correlation of per-poke slope and intercept deviations
	ResidSD     float64 // residual SD, ms
	REML        float64 // restricted log-likelihood at the optimum
	MajorIters  int
	FuncEvals   int
}

// gdata is one poke's measurements laid out for the likelihood loops.
type gdata struct {
	poke string
	x    []float64
	z    *mat.Dense    // n_i x 2 design [1 x]
	y    *mat.VecDense // durations
}

// remlParts carries the quantities one evaluation of the profiled
// restricted likelihood produces as side effects.
type remlParts struct {
	negll         float64
	beta0, beta1  float64
	sigma2        float64
	d00, d01, d11 float64 // scaled random-effects covariance D = L Lᵀ
}

// MixedEffectsFits fits one hierarchical regression across all pokes:
//
//	duration = (slope + slope_p)*volume + (intercept + intercept_p) + noise
//
// where each poke's deviations (intercept_p, slope_p) are drawn from a
// shared bivariate normal. The covariance is estimated by restricted maximum
// likelihood: fixed effects and residual variance are profiled out in closed
// form and the Cholesky factor of the scaled covariance is minimized with
// L-BFGS. Returned per-poke params are the maximum a posteriori estimates,
// fixed effects plus the poke's predicted deviation.
func MixedEffectsFits(events []types.CalibrationEvent) (*types.PokeFits, *MixedModel, error) {
	groups := groupByPoke(events)
	if len(groups) < 2 {
		return nil, nil, fmt.Errorf("%w: hierarchical fit needs at least 2 pokes, have %d", ErrInsufficientData, len(groups))
	}
	n := 0
	var allVols, allDurs []float64
	for _, g := range groups {
		n += len(g.vols)
		allVols = append(allVols, g.vols...)
		allDurs = append(allDurs, g.durs...)
	}
	if n < 4 {
		return nil, nil, fmt.Errorf("%w: %d events for hierarchical fit, need at least 4", ErrInsufficientData, n)
	}
	if stat.Variance(allVols, nil) == 0 {
		return nil, nil, fmt.Errorf("%w: all volumes identical", ErrIllConditioned)
	}
	alpha, beta := stat.LinearRegression(allVols, allDurs, nil, false)
	var pooledSSE float64
	for i, x := range allVols {
		r := allDurs[i] - (alpha + beta*x)
		pooledSSE += r * r
	}
	if pooledSSE <= 1e-12*float64(n) {
		return nil, nil, fmt.Errorf("%w: measurements fit one line exactly, no residual variance to estimate", ErrIllConditioned)
	}

	gs := make([]gdata, len(groups))
	for gi, g := range groups {
		ni := len(g.vols)
		z := mat.NewDense(ni, 2, nil)
		y := mat.NewVecDense(ni, nil)
		for i, x := range g.vols {
			z.Set(i, 0, 1)
			z.Set(i, 1, x)
			y.SetVec(i, g.durs[i])
		}
		gs[gi] = gdata{poke: g.poke, x: g.vols, z: z, y: y}
	}

	obj := func(theta []float64) float64 {
		parts, ok := remlProfile(gs, n, theta)
		if !ok {
			return math.Inf(1)
		}
		return parts.negll
	}
	// central differences: forward-difference noise is large enough near the
	// optimum to stall the linesearch
	gradient := func(grad, x []float64) {
		fd.Gradient(grad, obj, x, &fd.Settings{Formula: fd.Central})
	}
	problem := optimize.Problem{Func: obj, Grad: gradient}
	// start from the identity Cholesky factor
	x0 := []float64{1, 0, 1}
	settings := &optimize.Settings{GradientThreshold: 1e-6, MajorIterations: 500}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if result == nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrIllConditioned, err)
	}
	if debugOn {
		fmt.Printf("[fit debug] reml status=%v err=%v iters=%d fevals=%d theta=(%.5g, %.5g, %.5g)\n",
			result.Status, err, result.MajorIterations, result.FuncEvaluations,
			result.X[0], result.X[1], result.X[2])
	}
	switch result.Status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.StepConvergence, optimize.MethodConverge:
		// converged
	default:
		// The profiled likelihood flattens toward the optimum, often against
		// the D -> 0 boundary, and finite-difference noise can stall the
		// linesearch there before the gradient threshold is met. The
		// incumbent is still the fit: keep it when its gradient is already
		// small, fail otherwise.
		if !nearStationary(gradient, result.X) {
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrIllConditioned, err)
			}
			return nil, nil, fmt.Errorf("%w: optimizer stopped early (%v)", ErrIllConditioned, result.Status)
		}
		calib.Warnf("mixed-effects fit: optimizer stopped without certifying convergence (%v), keeping near-stationary estimate", result.Status)
	}

	parts, ok := remlProfile(gs, n, result.X)
	if !ok {
		return nil, nil, fmt.Errorf("%w: profiled likelihood undefined at optimum", ErrIllConditioned)
	}

	fits := types.NewPokeFits()
	for i := range gs {
		b0, b1 := blup(&gs[i], parts)
		fits.Add(gs[i].poke, types.FitParams{
			Slope:     round2(parts.beta1 + b1),
			Intercept: round2(parts.beta0 + b0),
		})
	}

	psi00 := parts.sigma2 * parts.d00
	psi01 := parts.sigma2 * parts.d01
	psi11 := parts.sigma2 * parts.d11
	model := &MixedModel{
		Slope:       parts.beta1,
		Intercept:   parts.beta0,
		SlopeSD:     math.Sqrt(psi11),
		InterceptSD: math.Sqrt(psi00),
		ResidSD:     math.Sqrt(parts.sigma2),
		REML:        -parts.negll,
		MajorIters:  result.MajorIterations,
		FuncEvals:   result.FuncEvaluations,
	}
	if psi00 > 0 && psi11 > 0 {
		model.Corr = psi01 / math.Sqrt(psi00*psi11)
	}
	return fits, model, nil
}

// scaledCov fills m with Z D Zᵀ + I for one group's volumes.
func scaledCov(m *mat.SymDense, x []float64, d00, d01, d11 float64) {
	for j := 0; j < len(x); j++ {
		for k := j; k < len(x); k++ {
			v := d00 + d01*(x[j]+x[k]) + d11*x[j]*x[k]
			if j == k {
				v++
			}
			m.SetSym(j, k, v)
		}
	}
}

// remlProfile evaluates the negative restricted log-likelihood at theta, the
// lower-triangular factor (l11, l21, l22) of the scaled random-effects
// covariance. ok is false where the likelihood is undefined.
func remlProfile(gs []gdata, n int, theta []float64) (remlParts, bool) {
	var parts remlParts
	l11, l21, l22 := theta[0], theta[1], theta[2]
	d00 := l11 * l11
	d01 := l11 * l21
	d11 := l21*l21 + l22*l22

	var (
		logdet        float64
		a00, a01, a11 float64 // ΣZᵀM⁻¹Z
		c0, c1        float64 // ΣZᵀM⁻¹y
		yMy           float64
	)
	for i := range gs {
		g := &gs[i]
		ni := g.y.Len()
		m := mat.NewSymDense(ni, nil)
		scaledCov(m, g.x, d00, d01, d11)
		var chol mat.Cholesky
		if !chol.Factorize(m) {
			return parts, false
		}
		logdet += chol.LogDet()

		var w mat.Dense
		if err := chol.SolveTo(&w, g.z); err != nil {
			return parts, false
		}
		var u mat.VecDense
		if err := chol.SolveVecTo(&u, g.y); err != nil {
			return parts, false
		}
		var zw mat.Dense
		zw.Mul(g.z.T(), &w)
		a00 += zw.At(0, 0)
		a01 += zw.At(0, 1)
		a11 += zw.At(1, 1)
		var zu mat.VecDense
		zu.MulVec(g.z.T(), &u)
		c0 += zu.AtVec(0)
		c1 += zu.AtVec(1)
		yMy += mat.Dot(g.y, &u)
	}

	aSym := mat.NewSymDense(2, []float64{a00, a01, a01, a11})
	var cholA mat.Cholesky
	if !cholA.Factorize(aSym) {
		return parts, false
	}
	var betaVec mat.VecDense
	if err := cholA.SolveVecTo(&betaVec, mat.NewVecDense(2, []float64{c0, c1})); err != nil {
		return parts, false
	}
	qf := yMy - (c0*betaVec.AtVec(0) + c1*betaVec.AtVec(1))
	if qf <= 0 {
		return parts, false
	}
	dof := float64(n - 2)
	sigma2 := qf / dof
	parts = remlParts{
		negll:  0.5 * (dof*math.Log(sigma2) + logdet + cholA.LogDet() + dof*(1+math.Log(2*math.Pi))),
		beta0:  betaVec.AtVec(0),
		beta1:  betaVec.AtVec(1),
		sigma2: sigma2,
		d00:    d00,
		d01:    d01,
		d11:    d11,
	}
	return parts, true
}

// stallGradTol is the gradient norm under which a stalled linesearch still
// counts as converged.
const stallGradTol = 1e-3

// nearStationary reports whether the gradient norm at x is within
// stallGradTol, treating x as an optimum the linesearch could not certify.
func nearStationary(gradient func(grad, x []float64), x []float64) bool {
	grad := make([]float64, len(x))
	gradient(grad, x)
	for _, g := range grad {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return false
		}
	}
	return floats.Norm(grad, 2) <= stallGradTol
}

// blup predicts one poke's deviation from the fixed effects, D Zᵀ M⁻¹ r
// evaluated at the fitted covariance.
func blup(g *gdata, parts remlParts) (b0, b1 float64) {
	ni := g.y.Len()
	m := mat.NewSymDense(ni, nil)
	scaledCov(m, g.x, parts.d00, parts.d01, parts.d11)
	r := mat.NewVecDense(ni, nil)
	for i := 0; i < ni; i++ {
		r.SetVec(i, g.y.AtVec(i)-(parts.beta0+parts.beta1*g.x[i]))
	}
	var chol mat.Cholesky
	if !chol.Factorize(m) {
		return 0, 0
	}
	var v mat.VecDense
	if err := chol.SolveVecTo(&v, r); err != nil {
		return 0, 0
	}
	var zv mat.VecDense
	zv.MulVec(g.z.T(), &v)
	b0 = parts.d00*zv.AtVec(0) + parts.d01*zv.AtVec(1)
	b1 = parts.d01*zv.AtVec(0) + parts.d11*zv.AtVec(1)
	return b0, b1
}

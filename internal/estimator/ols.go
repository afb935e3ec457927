package estimator

import (
	"fmt"
	"math"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// rankTol is the smallest singular value, relative to the largest, that
	// counts toward the rank of the column-scaled design.
	rankTol = 1e-10
	// leverageTol bounds 1-h_ii away from zero for HC2 and HC3 weights.
	leverageTol = 1e-10
	// confidence is the two-sided interval level.
	confidence = 0.95
)

// olsFit holds coefficients and covariance matrices on the original column scale.
type olsFit struct {
	coef      []float64
	robust    *mat.Dense
	classical *mat.Dense
	df        int
}

func (f *olsFit) robustSE(j int) float64    { return math.Sqrt(f.robust.At(j, j)) }
func (f *olsFit) classicalSE(j int) float64 { return math.Sqrt(f.classical.At(j, j)) }

// fitOLS estimates y = Xb by least squares and the HC sandwich covariance
// (X'X)⁻¹ X'ΩX (X'X)⁻¹ alongside the classical σ²(X'X)⁻¹. Columns are scaled
// to unit max-abs before factorizing so the rank test is not dominated by the
// magnitude of high powers of the running variable.
func fitOLS(d design, cov domain.CovarianceType) (*olsFit, error) {
	n, k := d.n(), d.k()
	if n < k+1 {
		return nil, fmt.Errorf("%w: %d complete observations for %d parameters (%d in window)",
			domain.ErrModelNotIdentified, n, k, d.window)
	}

	xs, scale := scaleColumns(d.x)
	for j, s := range scale {
		if s == 0 {
			return nil, fmt.Errorf("%w: column %s is identically zero", domain.ErrModelNotIdentified, d.names[j])
		}
	}
	if err := checkRank(xs, k); err != nil {
		return nil, err
	}

	b, xtxInv, err := solve(xs, d.y)
	if err != nil {
		return nil, err
	}

	var fitted mat.VecDense
	fitted.MulVec(xs, b)
	resid := make([]float64, n)
	sse := 0.0
	for i := range n {
		resid[i] = d.y[i] - fitted.AtVec(i)
		sse += resid[i] * resid[i]
	}
	df := n - k

	weights, err := hcWeights(xs, xtxInv, cov, n, k)
	if err != nil {
		return nil, err
	}

	// Meat: X' diag(w·e²) X, built from rows scaled by |e|·sqrt(w).
	xw := mat.DenseCopyOf(xs)
	for i := range n {
		f := math.Abs(resid[i]) * math.Sqrt(weights[i])
		for j := range k {
			xw.Set(i, j, xw.At(i, j)*f)
		}
	}
	var meat, bread, robust mat.Dense
	meat.Mul(xw.T(), xw)
	bread.Mul(xtxInv, &meat)
	robust.Mul(&bread, xtxInv)

	var classical mat.Dense
	classical.Scale(sse/float64(df), xtxInv)

	coef := make([]float64, k)
	for j := range k {
		coef[j] = b.AtVec(j) / scale[j]
	}
	unscale(&robust, scale)
	unscale(&classical, scale)

	return &olsFit{coef: coef, robust: &robust, classical: &classical, df: df}, nil
}

// scaleColumns returns a copy of x with each column divided by its largest
// absolute value, and those scales.
func scaleColumns(x *mat.Dense) (*mat.Dense, []float64) {
	n, k := x.Dims()
	xs := mat.DenseCopyOf(x)
	scale := make([]float64, k)
	for j := range k {
		for i := range n {
			scale[j] = math.Max(scale[j], math.Abs(x.At(i, j)))
		}
		if scale[j] == 0 {
			continue
		}
		for i := range n {
			xs.Set(i, j, x.At(i, j)/scale[j])
		}
	}
	return xs, scale
}

func unscale(m *mat.Dense, scale []float64) {
	r, c := m.Dims()
	for i := range r {
		for j := range c {
			m.Set(i, j, m.At(i, j)/(scale[i]*scale[j]))
		}
	}
}

// checkRank computes the numerical rank of x from its singular values.
func checkRank(x *mat.Dense, k int) error {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDNone) {
		return fmt.Errorf("%w: singular value decomposition did not converge", domain.ErrModelNotIdentified)
	}
	values := svd.Values(nil)
	rank := 0
	for _, v := range values {
		if v > rankTol*values[0] {
			rank++
		}
	}
	if rank < k {
		return fmt.Errorf("%w: design rank %d < %d parameters", domain.ErrModelNotIdentified, rank, k)
	}
	return nil
}

// solve returns the least-squares coefficients and (X'X)⁻¹ = R⁻¹R⁻ᵀ from a
// QR factorization of a full-rank x.
func solve(x *mat.Dense, y []float64) (*mat.VecDense, *mat.SymDense, error) {
	_, k := x.Dims()

	var qr mat.QR
	qr.Factorize(x)

	var b mat.VecDense
	if err := qr.SolveVecTo(&b, false, mat.NewVecDense(len(y), y)); err != nil {
		return nil, nil, fmt.Errorf("%w: least squares: %v", domain.ErrModelNotIdentified, err)
	}

	var r mat.Dense
	qr.RTo(&r)
	upper := mat.NewTriDense(k, mat.Upper, nil)
	for i := range k {
		for j := i; j < k; j++ {
			upper.SetTri(i, j, r.At(i, j))
		}
	}
	var rInv mat.TriDense
	if err := rInv.InverseTri(upper); err != nil {
		return nil, nil, fmt.Errorf("%w: invert R: %v", domain.ErrModelNotIdentified, err)
	}

	var xtxInv mat.SymDense
	xtxInv.SymOuterK(1, &rInv)
	return &b, &xtxInv, nil
}

// hcWeights returns the per-observation multipliers of e² in Ω.
func hcWeights(x *mat.Dense, xtxInv mat.Symmetric, cov domain.CovarianceType, n, k int) ([]float64, error) {
	w := make([]float64, n)
	switch cov {
	case domain.HC0:
		for i := range w {
			w[i] = 1
		}
		return w, nil
	case domain.HC1, "":
		for i := range w {
			w[i] = float64(n) / float64(n-k)
		}
		return w, nil
	case domain.HC2, domain.HC3:
	default:
		return nil, fmt.Errorf("%w: unknown covariance type %q", domain.ErrInvalidRequest, cov)
	}

	var xa mat.Dense
	xa.Mul(x, xtxInv)
	for i := range n {
		h := 0.0
		for j := range k {
			h += xa.At(i, j) * x.At(i, j)
		}
		if 1-h < leverageTol {
			return nil, fmt.Errorf("%w: observation %d has leverage 1", domain.ErrModelNotIdentified, i)
		}
		w[i] = 1 / (1 - h)
		if cov == domain.HC3 {
			w[i] *= w[i]
		}
	}
	return w, nil
}

// inference returns the t statistic, two-sided p-value, and confidence
// interval for an estimate with standard error se and df degrees of freedom.
// A zero standard error gives t=±Inf and p=0, or t=NaN and p=1 when the
// estimate is also zero.
func inference(estimate, se float64, df int) (t, p, lo, hi float64) {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	crit := dist.Quantile(1 - (1-confidence)/2)
	lo, hi = estimate-crit*se, estimate+crit*se

	if se == 0 {
		if estimate == 0 {
			return math.NaN(), 1, lo, hi
		}
		return math.Inf(int(math.Copysign(1, estimate))), 0, lo, hi
	}
	t = estimate / se
	p = math.Min(1, 2*dist.Survival(math.Abs(t)))
	return t, p, lo, hi
}

// PolyFit returns least-squares coefficients c0..c_degree of
// y = c0 + c1·x + … + c_degree·x^degree.
func PolyFit(x, y []float64, degree int) ([]float64, error) {
	if err := domain.ValidateDegree(degree); err != nil {
		return nil, err
	}
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: %d x values for %d y values", domain.ErrInvalidRequest, len(x), len(y))
	}
	k := degree + 1
	if len(x) < k {
		return nil, fmt.Errorf("%w: %d points for a degree %d polynomial", domain.ErrModelNotIdentified, len(x), degree)
	}

	data := make([]float64, 0, len(x)*k)
	for _, v := range x {
		data = append(data, 1)
		data = append(data, PolynomialBasis(v, degree)...)
	}
	xs, scale := scaleColumns(mat.NewDense(len(x), k, data))
	for _, s := range scale {
		if s == 0 {
			return nil, fmt.Errorf("%w: degenerate polynomial basis", domain.ErrModelNotIdentified)
		}
	}
	if err := checkRank(xs, k); err != nil {
		return nil, err
	}
	b, _, err := solve(xs, y)
	if err != nil {
		return nil, err
	}

	coef := make([]float64, k)
	for j := range k {
		coef[j] = b.AtVec(j) / scale[j]
	}
	return coef, nil
}

// EvalPoly evaluates coefficients from PolyFit at x.
func EvalPoly(coef []float64, x float64) float64 {
	y := 0.0
	for j := len(coef) - 1; j >= 0; j-- {
		y = y*x + coef[j]
	}
	return y
}

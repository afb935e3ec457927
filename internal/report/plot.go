package report

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"slices"

	"github.com/couchcryptid/dst-crime-rdd/internal/domain"
	"github.com/couchcryptid/dst-crime-rdd/internal/estimator"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"gonum.org/v1/plot/vg/vgsvg"
)

const (
	panelWidth  = 3.2 * vg.Inch
	panelHeight = 2.6 * vg.Inch
)

var (
	pointColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	preColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	postColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	refColor   = color.Gray{Y: 128}
	dashes     = []vg.Length{vg.Points(4), vg.Points(3)}
)

// EstimatesFigure draws point estimates with 95% intervals against bandwidth:
// one row of panels per outcome, one column per functional form, with a zero
// reference line. It returns SVG and PNG encodings of the same figure.
func EstimatesFigure(results []domain.ModelResult) (svg, png []byte, err error) {
	var outcomes []domain.Outcome
	var degrees []int
	for _, r := range results {
		if !slices.Contains(outcomes, r.Outcome) {
			outcomes = append(outcomes, r.Outcome)
		}
		if !slices.Contains(degrees, r.Degree) {
			degrees = append(degrees, r.Degree)
		}
	}
	slices.Sort(degrees)

	plots := make([][]*plot.Plot, len(outcomes))
	for i, outcome := range outcomes {
		plots[i] = make([]*plot.Plot, len(degrees))
		for j, degree := range degrees {
			var panel []domain.ModelResult
			for _, r := range results {
				if r.Outcome == outcome && r.Degree == degree {
					panel = append(panel, r)
				}
			}
			p, err := estimatesPanel(outcome, degree, panel)
			if err != nil {
				return nil, nil, err
			}
			plots[i][j] = p
		}
	}

	w := panelWidth * vg.Length(len(degrees))
	h := panelHeight * vg.Length(len(outcomes))

	svgCanvas := vgsvg.New(w, h)
	drawTiles(plots, draw.New(svgCanvas))
	var svgBuf bytes.Buffer
	if _, err := svgCanvas.WriteTo(&svgBuf); err != nil {
		return nil, nil, fmt.Errorf("encode svg: %w", err)
	}

	img := vgimg.New(w, h)
	drawTiles(plots, draw.New(img))
	var pngBuf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(&pngBuf); err != nil {
		return nil, nil, fmt.Errorf("encode png: %w", err)
	}
	return svgBuf.Bytes(), pngBuf.Bytes(), nil
}

func drawTiles(plots [][]*plot.Plot, dc draw.Canvas) {
	tiles := draw.Tiles{
		Rows:      len(plots),
		Cols:      len(plots[0]),
		PadX:      vg.Millimeter * 2,
		PadY:      vg.Millimeter * 2,
		PadTop:    vg.Millimeter,
		PadBottom: vg.Millimeter,
		PadLeft:   vg.Millimeter,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for i := range plots {
		for j := range plots[i] {
			plots[i][j].Draw(canvases[i][j])
		}
	}
}

func estimatesPanel(outcome domain.Outcome, degree int, results []domain.ModelResult) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s, %s", outcome.Label(), domain.FunctionalForm(degree))
	p.X.Label.Text = "Bandwidth (days)"
	p.Y.Label.Text = "Estimated effect"

	pts := make(plotter.XYs, len(results))
	errs := make(plotter.YErrors, len(results))
	lo, hi := 0.0, 0.0
	minX, maxX := math.Inf(1), math.Inf(-1)
	for i, r := range results {
		x := float64(r.Bandwidth)
		pts[i] = plotter.XY{X: x, Y: r.Estimate}
		errs[i].Low = r.Estimate - r.CILow
		errs[i].High = r.CIHigh - r.Estimate
		lo, hi = math.Min(lo, r.CILow), math.Max(hi, r.CIHigh)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
	}

	bars, err := plotter.NewYErrorBars(struct {
		plotter.XYer
		plotter.YErrorer
	}{pts, errs})
	if err != nil {
		return nil, fmt.Errorf("error bars: %w", err)
	}
	bars.Color = pointColor
	bars.CapWidth = vg.Points(6)

	points, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	points.GlyphStyle.Color = pointColor
	points.GlyphStyle.Shape = draw.CircleGlyph{}

	zero := plotter.NewFunction(func(float64) float64 { return 0 })
	zero.Color = refColor
	zero.Dashes = dashes

	p.Add(zero, bars, points)

	pad := math.Max(2, (maxX-minX)*0.1)
	p.X.Min, p.X.Max = minX-pad, maxX+pad
	span := math.Max(hi-lo, 1e-9)
	p.Y.Min, p.Y.Max = lo-0.05*span, hi+0.05*span
	return p, nil
}

// ScatterFigure draws daily outcome values within bandwidth days of the
// cutoff, with a polynomial of the given degree fitted separately on each
// side and a dashed line at the cutoff.
func ScatterFigure(ds *domain.Dataset, outcome domain.Outcome, bandwidth, degree int) ([]byte, error) {
	var all, pre, post plotter.XYs
	for _, o := range ds.Window(bandwidth) {
		y := o.Value(outcome)
		if math.IsNaN(y) {
			continue
		}
		pt := plotter.XY{X: float64(o.DaysFromCutoff), Y: y}
		all = append(all, pt)
		if o.Treated {
			post = append(post, pt)
		} else {
			pre = append(pre, pt)
		}
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no %s values within %d days", domain.ErrModelNotIdentified, outcome, bandwidth)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s around the DST transition", outcome.Label())
	p.X.Label.Text = "Days from cutoff"
	p.Y.Label.Text = outcome.Label()

	points, err := plotter.NewScatter(all)
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}
	points.GlyphStyle.Color = refColor
	points.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(points)

	for _, side := range []struct {
		pts plotter.XYs
		c   color.Color
	}{{pre, preColor}, {post, postColor}} {
		line, err := fitLine(side.pts, degree)
		if err != nil {
			return nil, err
		}
		line.Color = side.c
		line.Width = vg.Points(1.5)
		p.Add(line)
	}

	yMin, yMax := math.Inf(1), math.Inf(-1)
	for _, pt := range all {
		yMin, yMax = math.Min(yMin, pt.Y), math.Max(yMax, pt.Y)
	}
	cutoff, err := plotter.NewLine(plotter.XYs{{X: 0, Y: yMin}, {X: 0, Y: yMax}})
	if err != nil {
		return nil, fmt.Errorf("cutoff line: %w", err)
	}
	cutoff.Color = refColor
	cutoff.Dashes = dashes
	p.Add(cutoff)

	c := vgsvg.New(2*panelWidth, 1.5*panelHeight)
	p.Draw(draw.New(c))
	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode svg: %w", err)
	}
	return buf.Bytes(), nil
}

// fitLine evaluates a least-squares polynomial across the x range of pts.
func fitLine(pts plotter.XYs, degree int) (*plotter.Line, error) {
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, pt := range pts {
		xs[i], ys[i] = pt.X, pt.Y
	}
	coef, err := estimator.PolyFit(xs, ys, degree)
	if err != nil {
		return nil, err
	}

	lo, hi := slices.Min(xs), slices.Max(xs)
	const steps = 50
	curve := make(plotter.XYs, steps+1)
	for i := range curve {
		x := lo + (hi-lo)*float64(i)/steps
		curve[i] = plotter.XY{X: x, Y: estimator.EvalPoly(coef, x)}
	}
	return plotter.NewLine(curve)
}

package report

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

const bannerHeight = 90

// renderFigure draws the four panels into one PNG under a title banner:
// daily counts with the fit, the same on log-log axes, residuals, and
// aftershock magnitudes over time.
func renderFigure(w io.Writer, in Input, width, height int) error {
	panels := []chart.Chart{
		dailyPanel(in),
		logLogPanel(in),
		residualPanel(in),
		magnitudePanel(in),
	}

	canvas := image.NewRGBA(image.Rect(0, 0, 2*width, bannerHeight+2*height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(drawing.ColorWhite), image.Point{}, draw.Src)

	banner, err := renderBanner(titleLines(in), 2*width)
	if err != nil {
		return fmt.Errorf("render title: %w", err)
	}
	draw.Draw(canvas, banner.Bounds(), banner, image.Point{}, draw.Over)

	for i, panel := range panels {
		panel.Width, panel.Height = width, height
		img, err := renderPanel(panel)
		if err != nil {
			return fmt.Errorf("render panel %q: %w", panel.Title, err)
		}
		origin := image.Pt((i%2)*width, bannerHeight+(i/2)*height)
		draw.Draw(canvas, img.Bounds().Add(origin), img, img.Bounds().Min, draw.Over)
	}

	return png.Encode(w, canvas)
}

func titleLines(in Input) []string {
	return []string{
		fmt.Sprintf("Earthquake Aftershock Analysis - %s (M%.1f)", in.Name, in.MainShock.Magnitude),
		fmt.Sprintf("Omori Law: %s, R² = %.3f", in.Fit.Params, in.Fit.RSquared),
	}
}

func renderBanner(lines []string, width int) (image.Image, error) {
	r, err := chart.PNG(width, bannerHeight)
	if err != nil {
		return nil, err
	}
	font, err := chart.GetDefaultFont()
	if err != nil {
		return nil, err
	}
	r.SetFont(font)
	r.SetFontColor(chart.ColorBlack)
	r.SetFontSize(20)

	for i, line := range lines {
		box := r.MeasureText(line)
		r.Text(line, (width-box.Width())/2, 35+i*32)
	}

	var buf bytes.Buffer
	if err := r.Save(&buf); err != nil {
		return nil, err
	}
	return png.Decode(&buf)
}

func renderPanel(graph chart.Chart) (image.Image, error) {
	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return png.Decode(&buf)
}

func dailyPanel(in Input) chart.Chart {
	days := make([]float64, len(in.Fit.Bins))
	counts := make([]float64, len(in.Fit.Bins))
	predicted := make([]float64, len(in.Fit.Bins))
	for i, b := range in.Fit.Bins {
		days[i] = float64(b.Day)
		counts[i] = float64(b.Count)
		predicted[i] = b.Predicted
	}

	graph := chart.Chart{
		Title:      "Daily aftershock counts",
		Background: panelBackground(),
		XAxis: chart.XAxis{
			Name:           "Days After Main Shock",
			Range:          paddedRange(days),
			ValueFormatter: intFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Daily Aftershock Count",
			Range:          paddedRange(counts, predicted),
			ValueFormatter: floatFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Actual",
				XValues: days,
				YValues: counts,
				Style: chart.Style{
					StrokeColor: chart.ColorBlue.WithAlpha(180),
					StrokeWidth: 1.5,
					DotColor:    chart.ColorBlue,
					DotWidth:    3,
				},
			},
			chart.ContinuousSeries{
				Name:    fmt.Sprintf("Omori (p=%.2f)", in.Fit.Params.P),
				XValues: days,
				YValues: predicted,
				Style:   fitStyle(),
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

// logLogPanel plots log10 values on linear axes. Days with zero count have
// no logarithm and are skipped.
func logLogPanel(in Input) chart.Chart {
	var obsX, obsY []float64
	fitX := make([]float64, 0, len(in.Fit.Bins))
	fitY := make([]float64, 0, len(in.Fit.Bins))
	for _, b := range in.Fit.Bins {
		x := math.Log10(b.FitDay())
		if b.Count > 0 {
			obsX = append(obsX, x)
			obsY = append(obsY, math.Log10(float64(b.Count)))
		}
		if b.Predicted > 0 {
			fitX = append(fitX, x)
			fitY = append(fitY, math.Log10(b.Predicted))
		}
	}

	graph := chart.Chart{
		Title:      "Log-log decay",
		Background: panelBackground(),
		XAxis: chart.XAxis{
			Name:           "log10 Days After Main Shock",
			Range:          paddedRange(obsX, fitX),
			ValueFormatter: floatFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "log10 Aftershock Count",
			Range:          paddedRange(obsY, fitY),
			ValueFormatter: floatFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Actual",
				XValues: obsX,
				YValues: obsY,
				Style:   dotStyle(chart.ColorBlue),
			},
			chart.ContinuousSeries{
				Name:    fmt.Sprintf("Omori (p=%.2f)", in.Fit.Params.P),
				XValues: fitX,
				YValues: fitY,
				Style:   fitStyle(),
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph
}

func residualPanel(in Input) chart.Chart {
	days := make([]float64, len(in.Fit.Bins))
	residuals := make([]float64, len(in.Fit.Bins))
	for i, b := range in.Fit.Bins {
		days[i] = float64(b.Day)
		residuals[i] = b.Residual
	}
	xRange := paddedRange(days)

	return chart.Chart{
		Title:      "Residuals",
		Background: panelBackground(),
		XAxis: chart.XAxis{
			Name:           "Days After Main Shock",
			Range:          xRange,
			ValueFormatter: intFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Residual (Actual - Predicted)",
			Range:          paddedRange(residuals, []float64{0}),
			ValueFormatter: floatFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Residual",
				XValues: days,
				YValues: residuals,
				Style:   dotStyle(chart.ColorBlue),
			},
			chart.ContinuousSeries{
				Name:    "Zero",
				XValues: []float64{xRange.Min, xRange.Max},
				YValues: []float64{0, 0},
				Style:   fitStyle(),
			},
		},
	}
}

func magnitudePanel(in Input) chart.Chart {
	elapsed := make([]float64, len(in.Sequence.Aftershocks))
	mags := make([]float64, len(in.Sequence.Aftershocks))
	for i, a := range in.Sequence.Aftershocks {
		elapsed[i] = a.ElapsedDays
		mags[i] = a.Magnitude
	}

	return chart.Chart{
		Title:      "Aftershock magnitudes",
		Background: panelBackground(),
		XAxis: chart.XAxis{
			Name:           "Days After Main Shock",
			Range:          paddedRange(elapsed),
			ValueFormatter: floatFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Magnitude (M)",
			Range:          paddedRange(mags),
			ValueFormatter: floatFormatter,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "Aftershocks",
				XValues: elapsed,
				YValues: mags,
				Style:   dotStyle(chart.ColorGreen.WithAlpha(160)),
			},
		},
	}
}

func panelBackground() chart.Style {
	return chart.Style{Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20}}
}

func dotStyle(color drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotColor:    color,
		DotWidth:    3,
	}
}

func fitStyle() chart.Style {
	return chart.Style{
		StrokeColor:     chart.ColorRed,
		StrokeWidth:     2,
		StrokeDashArray: []float64{6, 4},
	}
}

// paddedRange spans all values with a margin. go-chart rejects zero-width
// ranges, so a single value is widened by one unit either side.
func paddedRange(series ...[]float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, values := range series {
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return &chart.ContinuousRange{Min: 0, Max: 1}
	}
	if hi-lo == 0 {
		return &chart.ContinuousRange{Min: lo - 1, Max: hi + 1}
	}
	pad := (hi - lo) * 0.05
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func intFormatter(v interface{}) string {
	return chart.FloatValueFormatterWithFormat(v, "%.0f")
}

func floatFormatter(v interface{}) string {
	return chart.FloatValueFormatterWithFormat(v, "%.2f")
}

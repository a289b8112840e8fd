package training

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	chart "github.com/wcharczuk/go-chart"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves PlotType = "training_curves"
	ScoreCurves    PlotType = "score_curves"
)

// PlotData is the JSON form of a plot, written next to the rendered PNG so
// curves can be re-plotted elsewhere
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name string      `json:"name"`
	Type string      `json:"type"`
	Data []DataPoint `json:"data"`
}

// DataPoint is one (x, y) sample
type DataPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string `json:"x_axis_label"`
	YAxisLabel string `json:"y_axis_label"`
	ShowLegend bool   `json:"show_legend"`
}

// VisualizationCollector keeps the per-epoch history for plotting
type VisualizationCollector struct {
	modelName string
	epochs    []EpochMetrics
	now       func() time.Time
}

// NewVisualizationCollector creates a new visualization collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName, now: time.Now}
}

// RecordEpoch records epoch-level metrics
func (vc *VisualizationCollector) RecordEpoch(m EpochMetrics) {
	vc.epochs = append(vc.epochs, m)
}

// Len returns the number of recorded epochs
func (vc *VisualizationCollector) Len() int {
	return len(vc.epochs)
}

// series builds a line series, dropping NaN samples
func (vc *VisualizationCollector) series(name string, value func(EpochMetrics) float64) SeriesData {
	s := SeriesData{Name: name, Type: "line"}
	for _, m := range vc.epochs {
		v := value(m)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s.Data = append(s.Data, DataPoint{X: float64(m.Epoch), Y: v})
	}
	return s
}

// GenerateTrainingCurvesPlot creates the loss curves of both phases
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     "Training Progress",
		Timestamp: vc.now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			vc.series("train_loss", func(m EpochMetrics) float64 { return m.Train.Loss }),
			vc.series("val_loss", func(m EpochMetrics) float64 { return m.Validation.Loss }),
			vc.series("val_image_loss", func(m EpochMetrics) float64 { return m.Validation.Losses.Segmentation }),
			vc.series("val_gen_loss", func(m EpochMetrics) float64 { return m.Validation.Losses.Regression }),
			vc.series("val_bin_loss", func(m EpochMetrics) float64 { return m.Validation.Losses.Classification }),
		},
		Config: PlotConfig{XAxisLabel: "Epoch", YAxisLabel: "Loss", ShowLegend: true},
	}
}

// GenerateScoreCurvesPlot creates the IoU and accuracy curves
func (vc *VisualizationCollector) GenerateScoreCurvesPlot() PlotData {
	return PlotData{
		PlotType:  ScoreCurves,
		Title:     "Validation Scores",
		Timestamp: vc.now(),
		ModelName: vc.modelName,
		Series: []SeriesData{
			vc.series("train_iou", func(m EpochMetrics) float64 { return m.Train.IoU }),
			vc.series("val_iou", func(m EpochMetrics) float64 { return m.Validation.IoU }),
			vc.series("train_bin_acc", func(m EpochMetrics) float64 { return m.Train.Accuracy }),
			vc.series("val_bin_acc", func(m EpochMetrics) float64 { return m.Validation.Accuracy }),
		},
		Config: PlotConfig{XAxisLabel: "Epoch", YAxisLabel: "Score", ShowLegend: true},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonBytes, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data: %v", err)
	}
	return string(jsonBytes), nil
}

// Render draws the plot as a PNG. Series with fewer than two points are
// left out; an error is returned when nothing remains.
func (pd PlotData) Render(w io.Writer) error {
	var series []chart.Series
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range pd.Series {
		if len(s.Data) < 2 {
			continue
		}
		xs := make([]float64, len(s.Data))
		ys := make([]float64, len(s.Data))
		for j, p := range s.Data {
			xs[j], ys[j] = p.X, p.Y
			lo, hi = math.Min(lo, p.Y), math.Max(hi, p.Y)
		}
		series = append(series, chart.ContinuousSeries{
			Name:    s.Name,
			XValues: xs,
			YValues: ys,
			Style: chart.Style{
				Show:        true,
				StrokeColor: chart.GetAlternateColor(i),
			},
		})
	}
	if len(series) == 0 {
		return fmt.Errorf("plot %s has no series with at least two points", pd.PlotType)
	}

	graph := chart.Chart{
		Title:      pd.Title,
		TitleStyle: chart.StyleShow(),
		XAxis: chart.XAxis{
			Name:      pd.Config.XAxisLabel,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		YAxis: chart.YAxis{
			Name:      pd.Config.YAxisLabel,
			NameStyle: chart.StyleShow(),
			Style:     chart.StyleShow(),
		},
		Series: series,
	}
	// go-chart refuses a flat y range
	if lo == hi {
		pad := math.Max(math.Abs(lo)*0.1, 1)
		graph.YAxis.Range = &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
	}
	if pd.Config.ShowLegend {
		graph.Elements = []chart.Renderable{
			chart.LegendLeft(&graph),
		}
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("failed to render %s: %v", pd.PlotType, err)
	}
	return nil
}

// WritePlots renders every plot into dir as <plot_type>.png plus a
// <plot_type>.json copy of the data. It returns the written paths.
func (vc *VisualizationCollector) WritePlots(fs afero.Fs, dir string) ([]string, error) {
	if len(vc.epochs) < 2 {
		return nil, fmt.Errorf("need at least two epochs to plot, have %d", len(vc.epochs))
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %v", err)
	}

	var written []string
	for _, pd := range []PlotData{vc.GenerateTrainingCurvesPlot(), vc.GenerateScoreCurvesPlot()} {
		pngPath := filepath.Join(dir, string(pd.PlotType)+".png")
		f, err := fs.Create(pngPath)
		if err != nil {
			return written, fmt.Errorf("failed to create %s: %v", pngPath, err)
		}
		renderErr := pd.Render(f)
		if err := f.Close(); err != nil && renderErr == nil {
			renderErr = err
		}
		if renderErr != nil {
			fs.Remove(pngPath)
			return written, renderErr
		}
		written = append(written, pngPath)

		js, err := pd.ToJSON()
		if err != nil {
			return written, err
		}
		jsonPath := filepath.Join(dir, string(pd.PlotType)+".json")
		if err := afero.WriteFile(fs, jsonPath, []byte(js), 0644); err != nil {
			return written, fmt.Errorf("failed to write %s: %v", jsonPath, err)
		}
		written = append(written, jsonPath)
	}
	return written, nil
}

package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
)

// CurvesFile is the name of the plot-ready loss curve artifact.
const CurvesFile = "curves.json"

// PlotType identifies the kind of plot a PlotData describes
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
)

// PlotData is a self-describing JSON document a plotting front end can render
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
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line" or "scatter"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
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
	XAxisScale string `json:"x_axis_scale"`
	YAxisScale string `json:"y_axis_scale"`
	ShowLegend bool   `json:"show_legend"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

func lineSeries(name, color string, values []float64, every int) SeriesData {
	if every <= 0 {
		every = 1
	}
	s := SeriesData{
		Name: name,
		Type: "line",
		Style: map[string]interface{}{
			"color":      color,
			"line_width": 2,
		},
	}
	add := func(i int) {
		// Non-finite losses from skipped generator steps leave a gap.
		if v := values[i]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			s.Data = append(s.Data, DataPoint{X: float64(i), Y: v})
		}
	}
	for i := 0; i < len(values); i += every {
		add(i)
	}
	// Always keep the last iteration so the curve ends where training did.
	if last := len(values) - 1; last >= 0 && last%every != 0 {
		add(last)
	}
	return s
}

// TrainingCurves builds the critic and generator loss curves, sampled every
// VisualizeNth iterations.
func (h *History) TrainingCurves(modelName string) PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Adversarial Losses - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series: []SeriesData{
			lineSeries("Critic Loss", "#FF6B6B", h.Disc, h.VisualizeNth),
			lineSeries("Generator Loss", "#4ECDC4", h.Gen, h.VisualizeNth),
		},
		Config: PlotConfig{
			XAxisLabel: "Iteration",
			YAxisLabel: "Loss",
			XAxisScale: "linear",
			YAxisScale: "linear",
			ShowLegend: true,
			Width:      800,
			Height:     600,
		},
	}
}

// LearningRateCurve plots the recorded learning rates, or returns false when
// none were recorded.
func (h *History) LearningRateCurve(modelName string) (PlotData, bool) {
	if len(h.LR) == 0 {
		return PlotData{}, false
	}
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series:    []SeriesData{lineSeries("Learning Rate", "#5F27CD", h.LR, 1)},
		Config: PlotConfig{
			XAxisLabel: "Iteration",
			YAxisLabel: "Learning Rate",
			XAxisScale: "linear",
			YAxisScale: "log",
			ShowLegend: false,
			Width:      800,
			Height:     400,
		},
	}, true
}

// WritePlots writes every available plot of h to path as a JSON array.
func (h *History) WritePlots(path, modelName string) error {
	plots := []PlotData{h.TrainingCurves(modelName)}
	if lr, ok := h.LearningRateCurve(modelName); ok {
		plots = append(plots, lr)
	}
	data, err := json.MarshalIndent(plots, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal plot data")
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o644), "write plots %s", path)
}

// Package anomaly maintains rolling statistical models per (asset, metric)
// and flags observations whose z-score exceeds the configured sensitivity.
package anomaly

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/open-dqm/open-dqm/internal/store"
)

const (
	// DefaultSensitivity is the z-score threshold above which an
	// observation is anomalous.
	DefaultSensitivity = 2.0
	// DefaultMinSamples is the cold-start floor: below this the model only
	// learns and never flags.
	DefaultMinSamples = 10
)

// ErrColdStart reports that the model has too few samples to judge.
var ErrColdStart = errors.New("anomaly model warming up")

// ModelStore persists rolling models and detected events.
type ModelStore interface {
	GetAnomalyModel(ctx context.Context, assetID, metric string) (*store.AnomalyModel, error)
	SaveAnomalyModel(ctx context.Context, m *store.AnomalyModel) error
	InsertAnomalyEvent(ctx context.Context, e *store.AnomalyEvent) error
}

// Verdict is the outcome of observing one value.
type Verdict struct {
	Anomalous bool
	ZScore    float64
	Mean      float64
	StdDev    float64
	// ModelVersion is pinned at detection time so later model updates do
	// not retroactively change the event.
	ModelVersion int
}

// Detector scores observations against per-metric rolling models.
type Detector struct {
	Store       ModelStore
	Sensitivity float64
	MinSamples  int
	Now         func() time.Time
}

func NewDetector(s ModelStore, sensitivity float64, minSamples int) *Detector {
	if sensitivity <= 0 {
		sensitivity = DefaultSensitivity
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Detector{Store: s, Sensitivity: sensitivity, MinSamples: minSamples}
}

// Observe scores value against the model for (assetID, metric), then folds
// the value into the model. During cold start the value is absorbed and
// ErrColdStart is returned so callers treat the rule as passed.
func (d *Detector) Observe(ctx context.Context, assetID, metric string, value float64, sensitivity float64) (Verdict, error) {
	if sensitivity <= 0 {
		sensitivity = d.Sensitivity
	}

	m, err := d.Store.GetAnomalyModel(ctx, assetID, metric)
	if errors.Is(err, store.ErrNotFound) {
		m = &store.AnomalyModel{AssetID: assetID, Metric: metric, Version: 1}
	} else if err != nil {
		return Verdict{}, err
	}

	cold := m.SampleCount < int64(d.MinSamples)
	v := Verdict{ModelVersion: m.Version}
	if !cold {
		v.Mean = m.Mean
		v.StdDev = stdDev(m)
		v.ZScore = math.Abs(value-m.Mean) / v.StdDev
		v.Anomalous = v.ZScore >= sensitivity
	}

	update(m, value)
	m.UpdatedAt = d.now()
	if err := d.Store.SaveAnomalyModel(ctx, m); err != nil {
		return Verdict{}, err
	}

	if cold {
		return v, ErrColdStart
	}
	if v.Anomalous {
		err := d.Store.InsertAnomalyEvent(ctx, &store.AnomalyEvent{
			AssetID:      assetID,
			Metric:       metric,
			Value:        value,
			Score:        v.ZScore,
			ModelMean:    v.Mean,
			ModelStdDev:  v.StdDev,
			ModelVersion: v.ModelVersion,
			DetectedAt:   d.now(),
		})
		if err != nil {
			return Verdict{}, err
		}
	}
	return v, nil
}

func (d *Detector) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// update folds one observation into the model with Welford's algorithm.
func update(m *store.AnomalyModel, value float64) {
	m.SampleCount++
	delta := value - m.Mean
	m.Mean += delta / float64(m.SampleCount)
	m.M2 += delta * (value - m.Mean)
}

// stdDev derives the sample standard deviation, floored at 0.01 so a flat
// history does not divide by zero.
func stdDev(m *store.AnomalyModel) float64 {
	if m.SampleCount < 2 {
		return 0.01
	}
	sd := math.Sqrt(m.M2 / float64(m.SampleCount-1))
	if sd < 0.01 {
		return 0.01
	}
	return sd
}

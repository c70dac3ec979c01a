package anomaly

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/open-dqm/open-dqm/internal/store"
)

type fakeModelStore struct {
	models map[string]*store.AnomalyModel
	events []store.AnomalyEvent
}

func newFakeModelStore() *fakeModelStore {
	return &fakeModelStore{models: make(map[string]*store.AnomalyModel)}
}

func (f *fakeModelStore) key(assetID, metric string) string { return assetID + "/" + metric }

func (f *fakeModelStore) GetAnomalyModel(_ context.Context, assetID, metric string) (*store.AnomalyModel, error) {
	m, ok := f.models[f.key(assetID, metric)]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeModelStore) SaveAnomalyModel(_ context.Context, m *store.AnomalyModel) error {
	cp := *m
	f.models[f.key(m.AssetID, m.Metric)] = &cp
	return nil
}

func (f *fakeModelStore) InsertAnomalyEvent(_ context.Context, e *store.AnomalyEvent) error {
	f.events = append(f.events, *e)
	return nil
}

func feed(t *testing.T, d *Detector, assetID, metric string, values []float64) {
	t.Helper()
	for _, v := range values {
		if _, err := d.Observe(context.Background(), assetID, metric, v, 0); err != nil && !errors.Is(err, ErrColdStart) {
			t.Fatalf("Observe(%v): %v", v, err)
		}
	}
}

func TestObserveColdStartLearnsWithoutFlagging(t *testing.T) {
	fs := newFakeModelStore()
	d := NewDetector(fs, 2.0, 10)

	for i := 0; i < 9; i++ {
		_, err := d.Observe(context.Background(), "a1", "row_count", 100, 0)
		if !errors.Is(err, ErrColdStart) {
			t.Fatalf("sample %d: err = %v, want ErrColdStart", i, err)
		}
	}
	if len(fs.events) != 0 {
		t.Fatalf("events during cold start: %d", len(fs.events))
	}
	m := fs.models["a1/row_count"]
	if m == nil || m.SampleCount != 9 {
		t.Fatalf("model not learning: %+v", m)
	}
}

func TestObserveFlagsOutlier(t *testing.T) {
	fs := newFakeModelStore()
	d := NewDetector(fs, 2.0, 10)
	feed(t, d, "a1", "row_count", []float64{100, 101, 99, 100, 102, 98, 100, 101, 99, 100})

	v, err := d.Observe(context.Background(), "a1", "row_count", 250, 0)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !v.Anomalous {
		t.Fatalf("outlier not flagged: %+v", v)
	}
	if len(fs.events) != 1 {
		t.Fatalf("events = %d, want 1", len(fs.events))
	}
	e := fs.events[0]
	if e.ModelVersion != 1 {
		t.Fatalf("event model version = %d, want 1", e.ModelVersion)
	}
	if e.Score < 2.0 {
		t.Fatalf("event score = %v, want >= sensitivity", e.Score)
	}
}

func TestObserveNormalValuePasses(t *testing.T) {
	fs := newFakeModelStore()
	d := NewDetector(fs, 2.0, 10)
	feed(t, d, "a1", "row_count", []float64{100, 101, 99, 100, 102, 98, 100, 101, 99, 100})

	v, err := d.Observe(context.Background(), "a1", "row_count", 101, 0)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if v.Anomalous {
		t.Fatalf("normal value flagged: %+v", v)
	}
	if len(fs.events) != 0 {
		t.Fatalf("events = %d, want 0", len(fs.events))
	}
}

func TestObserveFlatHistoryNoDivideByZero(t *testing.T) {
	fs := newFakeModelStore()
	d := NewDetector(fs, 2.0, 5)
	feed(t, d, "a1", "null_rate", []float64{0, 0, 0, 0, 0})

	v, err := d.Observe(context.Background(), "a1", "null_rate", 0.5, 0)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if math.IsInf(v.ZScore, 0) || math.IsNaN(v.ZScore) {
		t.Fatalf("z-score = %v", v.ZScore)
	}
	if !v.Anomalous {
		t.Fatalf("jump from flat baseline not flagged: %+v", v)
	}
}

func TestObservePerRuleSensitivityOverride(t *testing.T) {
	fs := newFakeModelStore()
	d := NewDetector(fs, 2.0, 10)
	feed(t, d, "a1", "row_count", []float64{100, 104, 96, 100, 103, 97, 100, 104, 96, 100})

	// The same value is anomalous at a tight threshold and quiet at a loose one.
	v, err := d.Observe(context.Background(), "a1", "row_count", 106, 1.0)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if !v.Anomalous {
		t.Fatalf("tight threshold did not flag: %+v", v)
	}
	v, err = d.Observe(context.Background(), "a1", "row_count", 106, 5.0)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if v.Anomalous {
		t.Fatalf("loose threshold flagged: %+v", v)
	}
}

func TestWelfordMatchesDirectComputation(t *testing.T) {
	m := &store.AnomalyModel{}
	values := []float64{4, 7, 13, 16}
	for _, v := range values {
		update(m, v)
	}
	if m.Mean != 10 {
		t.Fatalf("mean = %v, want 10", m.Mean)
	}
	// Sample variance of {4,7,13,16} is 30.
	if got := stdDev(m); math.Abs(got-math.Sqrt(30)) > 1e-9 {
		t.Fatalf("stddev = %v, want sqrt(30)", got)
	}
}

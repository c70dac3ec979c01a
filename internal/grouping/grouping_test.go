package grouping

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/open-dqm/open-dqm/internal/store"
)

type fakeGroupStore struct {
	groups  map[string]*store.AlertGroup
	alerts  map[string][]store.Alert
	touched []string
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{
		groups: make(map[string]*store.AlertGroup),
		alerts: make(map[string][]store.Alert),
	}
}

func (f *fakeGroupStore) GetActiveGroupByKey(_ context.Context, key string) (*store.AlertGroup, error) {
	for _, g := range f.groups {
		if g.GroupKey == key && g.Status != store.GroupResolved {
			cp := *g
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeGroupStore) CreateGroup(_ context.Context, g *store.AlertGroup) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	cp := *g
	f.groups[g.ID] = &cp
	return nil
}

func (f *fakeGroupStore) TouchGroup(_ context.Context, id, memberSeverity string, at time.Time) error {
	g := f.groups[id]
	if store.SeverityRank(memberSeverity) > store.SeverityRank(g.Severity) {
		g.Severity = memberSeverity
	}
	g.LastUpdated = at
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeGroupStore) SetGroupSeverity(_ context.Context, id, severity string, at time.Time) error {
	f.groups[id].Severity = severity
	f.groups[id].LastUpdated = at
	return nil
}

func (f *fakeGroupStore) SetGroupStatus(_ context.Context, id, status string) error {
	f.groups[id].Status = status
	return nil
}

func (f *fakeGroupStore) SnoozeGroup(_ context.Context, id string, until time.Time) error {
	f.groups[id].Status = store.GroupSnoozed
	f.groups[id].SnoozeUntil = until
	return nil
}

func (f *fakeGroupStore) SetAlertGroup(_ context.Context, alertID, groupID string) error {
	f.alerts[groupID] = append(f.alerts[groupID], store.Alert{ID: alertID})
	return nil
}

func (f *fakeGroupStore) ListAlertsByGroup(_ context.Context, groupID string) ([]store.Alert, error) {
	return f.alerts[groupID], nil
}

func TestKeyDeterministic(t *testing.T) {
	a := Key("completeness_failure", "asset-1", store.DimCompleteness)
	b := Key("completeness_failure", "asset-1", store.DimCompleteness)
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a == Key("completeness_failure", "asset-2", store.DimCompleteness) {
		t.Fatalf("different assets share a key")
	}
	if len(a) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(a))
	}
}

func TestAssignCreatesGroupThenMerges(t *testing.T) {
	fs := newFakeGroupStore()
	g := NewGrouper(fs)

	first := store.Alert{ID: "al-1", Category: "completeness_failure", AssetID: "asset-1",
		Dimension: store.DimCompleteness, Severity: store.SeverityMedium}
	group1, err := g.Assign(context.Background(), &first)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if first.GroupID != group1.ID {
		t.Fatalf("alert not linked to group")
	}

	second := store.Alert{ID: "al-2", Category: "completeness_failure", AssetID: "asset-1",
		Dimension: store.DimCompleteness, Severity: store.SeverityCritical}
	group2, err := g.Assign(context.Background(), &second)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if group2.ID != group1.ID {
		t.Fatalf("second alert opened a new group")
	}
	if got := fs.groups[group1.ID].Severity; got != store.SeverityCritical {
		t.Fatalf("group severity = %s, want raised to critical", got)
	}
	if len(fs.groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(fs.groups))
	}
}

func TestAssignAfterResolutionStartsFreshGroup(t *testing.T) {
	fs := newFakeGroupStore()
	g := NewGrouper(fs)

	alert := store.Alert{ID: "al-1", Category: "freshness_failure", AssetID: "asset-1",
		Dimension: store.DimFreshness, Severity: store.SeverityHigh}
	group1, err := g.Assign(context.Background(), &alert)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	fs.alerts[group1.ID] = []store.Alert{{ID: "al-1", Resolved: true}}
	if err := g.Reconcile(context.Background(), group1.ID); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if fs.groups[group1.ID].Status != store.GroupResolved {
		t.Fatalf("group not resolved after all members resolved")
	}

	next := store.Alert{ID: "al-2", Category: "freshness_failure", AssetID: "asset-1",
		Dimension: store.DimFreshness, Severity: store.SeverityHigh}
	group2, err := g.Assign(context.Background(), &next)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if group2.ID == group1.ID {
		t.Fatalf("alert merged into a resolved group")
	}
}

func TestReconcileKeepsGroupOpenWithUnresolvedMembers(t *testing.T) {
	fs := newFakeGroupStore()
	g := NewGrouper(fs)
	fs.groups["g1"] = &store.AlertGroup{ID: "g1", Status: store.GroupActive}
	fs.alerts["g1"] = []store.Alert{{ID: "al-1", Resolved: true}, {ID: "al-2", Resolved: false}}

	if err := g.Reconcile(context.Background(), "g1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if fs.groups["g1"].Status != store.GroupActive {
		t.Fatalf("group resolved with an open member")
	}
}

func TestReconcileLowersSeverityWhenWorstMemberResolves(t *testing.T) {
	fs := newFakeGroupStore()
	g := NewGrouper(fs)
	fs.groups["g1"] = &store.AlertGroup{ID: "g1", Status: store.GroupActive, Severity: store.SeverityCritical}
	fs.alerts["g1"] = []store.Alert{
		{ID: "al-1", Severity: store.SeverityCritical, Resolved: true},
		{ID: "al-2", Severity: store.SeverityLow, Resolved: false},
	}

	if err := g.Reconcile(context.Background(), "g1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if fs.groups["g1"].Status != store.GroupActive {
		t.Fatalf("group resolved with an open member")
	}
	if got := fs.groups["g1"].Severity; got != store.SeverityLow {
		t.Fatalf("group severity = %s, want lowered to low", got)
	}
}

func TestSnooze(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fs := newFakeGroupStore()
	g := NewGrouper(fs)
	g.Now = func() time.Time { return now }
	fs.groups["g1"] = &store.AlertGroup{ID: "g1", Status: store.GroupActive}

	if err := g.Snooze(context.Background(), "g1", now.Add(-time.Hour)); err == nil {
		t.Fatalf("past snooze deadline accepted")
	}

	until := now.Add(4 * time.Hour)
	if err := g.Snooze(context.Background(), "g1", until); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	if !Snoozed(fs.groups["g1"], now.Add(time.Hour)) {
		t.Fatalf("group not silenced inside snooze window")
	}
	if Snoozed(fs.groups["g1"], until.Add(time.Minute)) {
		t.Fatalf("group still silenced after deadline")
	}
}

package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/open-dqm/open-dqm/internal/grouping"
	"github.com/open-dqm/open-dqm/internal/notify"
	"github.com/open-dqm/open-dqm/internal/scoring"
	"github.com/open-dqm/open-dqm/internal/store"
	"github.com/open-dqm/open-dqm/internal/suppress"
)

type fakeAlertStore struct {
	alerts       []store.Alert
	suppressions []store.Suppression
	impacts      map[string]float64
	resolved     map[string][]string
	assets       map[string]store.Asset
	issues       map[string]store.Issue
	sources      map[string]store.DataSource
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{
		impacts:  make(map[string]float64),
		resolved: make(map[string][]string),
		assets:   make(map[string]store.Asset),
		issues:   make(map[string]store.Issue),
		sources:  make(map[string]store.DataSource),
	}
}

func (f *fakeAlertStore) InsertAlert(_ context.Context, a *store.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	f.alerts = append(f.alerts, *a)
	return nil
}

func (f *fakeAlertStore) InsertSuppression(_ context.Context, sup *store.Suppression) error {
	f.suppressions = append(f.suppressions, *sup)
	return nil
}

func (f *fakeAlertStore) ResolveAlertsForIssue(_ context.Context, issueID string) ([]string, error) {
	return f.resolved[issueID], nil
}

func (f *fakeAlertStore) UpdateIssueImpact(_ context.Context, id string, impact float64) error {
	f.impacts[id] = impact
	return nil
}

func (f *fakeAlertStore) ListOpenAlertsForIssue(_ context.Context, issueID string) ([]store.Alert, error) {
	var out []store.Alert
	for _, a := range f.alerts {
		if a.IssueID == issueID && !a.Resolved {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) UpdateAlertCriticality(_ context.Context, id string, c store.CriticalityScore) error {
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Criticality = c
		}
	}
	return nil
}

func (f *fakeAlertStore) ListSuppressedOpenAlerts(_ context.Context) ([]store.Alert, error) {
	var out []store.Alert
	for _, a := range f.alerts {
		if a.Suppressed && !a.Resolved {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlertStore) SetAlertSuppressed(_ context.Context, id string, suppressed bool) error {
	for i := range f.alerts {
		if f.alerts[i].ID == id {
			f.alerts[i].Suppressed = suppressed
		}
	}
	return nil
}

func (f *fakeAlertStore) GetAsset(_ context.Context, id string) (*store.Asset, error) {
	a, ok := f.assets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (f *fakeAlertStore) GetIssue(_ context.Context, id string) (*store.Issue, error) {
	i, ok := f.issues[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &i, nil
}

func (f *fakeAlertStore) GetDataSource(_ context.Context, id string) (*store.DataSource, error) {
	ds, ok := f.sources[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ds, nil
}

type fakeHistory struct{}

func (fakeHistory) RecentMetricValues(context.Context, string, string, int) ([]float64, error) {
	return nil, nil
}

type fakeGroupStore struct {
	groups map[string]*store.AlertGroup
	links  map[string]string
	alerts map[string][]store.Alert
}

func newFakeGroupStore() *fakeGroupStore {
	return &fakeGroupStore{
		groups: make(map[string]*store.AlertGroup),
		links:  make(map[string]string),
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

func (f *fakeGroupStore) TouchGroup(_ context.Context, id, severity string, at time.Time) error {
	f.groups[id].LastUpdated = at
	return nil
}

func (f *fakeGroupStore) SetGroupStatus(_ context.Context, id, status string) error {
	f.groups[id].Status = status
	return nil
}

func (f *fakeGroupStore) SetGroupSeverity(_ context.Context, id, severity string, at time.Time) error {
	f.groups[id].Severity = severity
	f.groups[id].LastUpdated = at
	return nil
}

func (f *fakeGroupStore) SnoozeGroup(_ context.Context, id string, until time.Time) error {
	f.groups[id].Status = store.GroupSnoozed
	f.groups[id].SnoozeUntil = until
	return nil
}

func (f *fakeGroupStore) SetAlertGroup(_ context.Context, alertID, groupID string) error {
	f.links[alertID] = groupID
	return nil
}

func (f *fakeGroupStore) ListAlertsByGroup(_ context.Context, groupID string) ([]store.Alert, error) {
	return f.alerts[groupID], nil
}

type fakeChannel struct {
	name string
	sent []notify.Payload
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, p notify.Payload) error {
	f.sent = append(f.sent, p)
	return nil
}

type noSuppression struct{}

func (noSuppression) ListActiveSuppressionRules(context.Context) ([]store.SuppressionRule, error) {
	return nil, nil
}

func pipelineFixture(ruleSrc suppress.RuleSource) (*Pipeline, *fakeAlertStore, *fakeGroupStore, *fakeChannel) {
	alerts := newFakeAlertStore()
	groups := newFakeGroupStore()
	ch := &fakeChannel{name: "ops"}
	p := &Pipeline{
		Store:       alerts,
		Criticality: scoring.NewCriticalityScorer(fakeHistory{}),
		Suppress:    suppress.NewFilter(ruleSrc),
		Groups:      grouping.NewGrouper(groups),
		Router: notify.NewRouter(
			[]notify.Route{{MinSeverity: store.SeverityLow, Channels: []string{"ops"}}},
			[]notify.Channel{ch}, nil),
	}
	return p, alerts, groups, ch
}

func failingFixture() (*store.DataSource, store.Rule, store.Asset, *store.Issue, *store.Result) {
	ds := &store.DataSource{ID: "ds1", Database: "warehouse"}
	rule := store.Rule{ID: "r1", Name: "orders not null", Kind: store.RuleKindThreshold,
		Dimension: store.DimCompleteness, Severity: store.SeverityHigh}
	asset := store.Asset{ID: "a1", DataSourceID: "ds1", Schema: "public", Table: "orders",
		RowCount: 100, RevenueImpact: 150_000, AffectedUsers: 20_000}
	issue := &store.Issue{ID: "i1", Severity: store.SeverityHigh, Status: store.IssueOpen}
	result := &store.Result{MetricValue: 88, ThresholdValue: 95, Status: store.ResultFailed}
	return ds, rule, asset, issue, result
}

func TestRaiseForFailureRoutesUnsuppressedAlert(t *testing.T) {
	p, alerts, _, ch := pipelineFixture(noSuppression{})
	ds, rule, asset, issue, result := failingFixture()

	alert, err := p.RaiseForFailure(context.Background(), ds, rule, asset, issue, result)
	if err != nil {
		t.Fatalf("RaiseForFailure: %v", err)
	}
	if alert.Suppressed {
		t.Fatalf("alert suppressed without rules")
	}
	if alert.Criticality.Total != 80 {
		t.Fatalf("criticality total = %d, want 80", alert.Criticality.Total)
	}
	if alert.GroupID == "" {
		t.Fatalf("alert not grouped")
	}
	if len(alerts.alerts) != 1 {
		t.Fatalf("stored alerts = %d", len(alerts.alerts))
	}
	if len(ch.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(ch.sent))
	}
	if got := alerts.impacts["i1"]; got != 80 {
		t.Fatalf("issue impact = %v, want 80", got)
	}
}

func TestRaiseForFailureSuppressedAlertStoredNotRouted(t *testing.T) {
	rules := suppressionRules(store.SuppressionRule{
		ID: "sr1", Name: "empty-table", Condition: suppress.CondEmptyTable, Priority: 10,
	})
	p, alerts, _, ch := pipelineFixture(rules)
	ds, rule, asset, issue, result := failingFixture()
	asset.RowCount = 0

	alert, err := p.RaiseForFailure(context.Background(), ds, rule, asset, issue, result)
	if err != nil {
		t.Fatalf("RaiseForFailure: %v", err)
	}
	if !alert.Suppressed {
		t.Fatalf("alert not suppressed")
	}
	if len(alerts.alerts) != 1 {
		t.Fatalf("suppressed alert not stored")
	}
	if len(alerts.suppressions) != 1 || alerts.suppressions[0].Condition != suppress.CondEmptyTable {
		t.Fatalf("suppression record = %+v", alerts.suppressions)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("suppressed alert was routed")
	}
}

func TestRaiseForFailureRepricesEarlierOpenAlerts(t *testing.T) {
	p, alerts, _, _ := pipelineFixture(noSuppression{})
	ds, rule, asset, issue, result := failingFixture()
	alerts.alerts = append(alerts.alerts, store.Alert{
		ID: "stale", IssueID: issue.ID, RuleID: rule.ID, AssetID: asset.ID,
		Criticality: store.CriticalityScore{BaseSeverity: 30, Total: 30},
	})

	alert, err := p.RaiseForFailure(context.Background(), ds, rule, asset, issue, result)
	if err != nil {
		t.Fatalf("RaiseForFailure: %v", err)
	}
	if alerts.alerts[0].Criticality != alert.Criticality {
		t.Fatalf("earlier alert criticality = %+v, want %+v", alerts.alerts[0].Criticality, alert.Criticality)
	}
}

func TestReviewSuppressedLiftsOnlyUnmatchedAlerts(t *testing.T) {
	rules := suppressionRules(store.SuppressionRule{
		ID: "sr1", Name: "empty-table", Condition: suppress.CondEmptyTable, Priority: 10,
	})
	p, alerts, _, _ := pipelineFixture(rules)

	// al1's table has received rows since it was suppressed; al2's is still empty.
	alerts.assets["a1"] = store.Asset{ID: "a1", DataSourceID: "ds1", Schema: "public", Table: "orders", RowCount: 500}
	alerts.assets["a2"] = store.Asset{ID: "a2", DataSourceID: "ds1", Schema: "public", Table: "staging", RowCount: 0}
	alerts.issues["i1"] = store.Issue{ID: "i1", Severity: store.SeverityHigh, Status: store.IssueOpen}
	alerts.issues["i2"] = store.Issue{ID: "i2", Severity: store.SeverityLow, Status: store.IssueOpen}
	alerts.sources["ds1"] = store.DataSource{ID: "ds1", Database: "warehouse"}
	alerts.alerts = append(alerts.alerts,
		store.Alert{ID: "al1", IssueID: "i1", AssetID: "a1", Suppressed: true},
		store.Alert{ID: "al2", IssueID: "i2", AssetID: "a2", Suppressed: true},
	)

	cleared, err := p.ReviewSuppressed(context.Background())
	if err != nil {
		t.Fatalf("ReviewSuppressed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}
	if alerts.alerts[0].Suppressed {
		t.Fatalf("alert on repopulated table still suppressed")
	}
	if !alerts.alerts[1].Suppressed {
		t.Fatalf("alert on empty table lost its suppression")
	}
}

func TestRaiseForFailureSnoozedGroupSilences(t *testing.T) {
	p, _, groups, ch := pipelineFixture(noSuppression{})
	ds, rule, asset, issue, result := failingFixture()

	key := grouping.Key(Category(rule), asset.ID, rule.Dimension)
	groups.groups["g1"] = &store.AlertGroup{
		ID: "g1", GroupKey: key, Status: store.GroupSnoozed,
		SnoozeUntil: time.Now().Add(time.Hour),
	}

	if _, err := p.RaiseForFailure(context.Background(), ds, rule, asset, issue, result); err != nil {
		t.Fatalf("RaiseForFailure: %v", err)
	}
	if len(ch.sent) != 0 {
		t.Fatalf("snoozed group member was routed")
	}
}

func TestResolveForPassReconcilesGroups(t *testing.T) {
	p, alerts, groups, _ := pipelineFixture(noSuppression{})
	groups.groups["g1"] = &store.AlertGroup{ID: "g1", Status: store.GroupActive}
	groups.alerts["g1"] = []store.Alert{{ID: "al1", Resolved: true}}
	alerts.resolved["i1"] = []string{"g1"}

	if err := p.ResolveForPass(context.Background(), "i1"); err != nil {
		t.Fatalf("ResolveForPass: %v", err)
	}
	if groups.groups["g1"].Status != store.GroupResolved {
		t.Fatalf("group not reconciled after final member resolved")
	}
}

func TestCategory(t *testing.T) {
	if got := Category(store.Rule{Kind: store.RuleKindAnomaly, Dimension: store.DimCompleteness}); got != "volume_anomaly" {
		t.Fatalf("anomaly category = %q", got)
	}
	if got := Category(store.Rule{Kind: store.RuleKindThreshold, Dimension: store.DimFreshness}); got != "freshness_failure" {
		t.Fatalf("category = %q", got)
	}
}

type suppressionRuleList []store.SuppressionRule

func (l suppressionRuleList) ListActiveSuppressionRules(context.Context) ([]store.SuppressionRule, error) {
	return l, nil
}

func suppressionRules(rules ...store.SuppressionRule) suppressionRuleList {
	return suppressionRuleList(rules)
}

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/open-dqm/open-dqm/internal/store"
)

type fakeChannel struct {
	name string
	sent []Payload
	err  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, p Payload) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, p)
	return nil
}

func TestDispatchMatchesCategoryAndSeverity(t *testing.T) {
	pager := &fakeChannel{name: "pager"}
	mail := &fakeChannel{name: "mail"}
	r := NewRouter([]Route{
		{Category: "freshness_failure", MinSeverity: store.SeverityHigh, Channels: []string{"pager"}},
		{MinSeverity: store.SeverityLow, Channels: []string{"mail"}},
	}, []Channel{pager, mail}, nil)

	r.Dispatch(context.Background(), Payload{AlertID: "a1", Category: "freshness_failure", Severity: store.SeverityCritical})
	if len(pager.sent) != 1 || len(mail.sent) != 1 {
		t.Fatalf("pager=%d mail=%d, want 1/1", len(pager.sent), len(mail.sent))
	}

	r.Dispatch(context.Background(), Payload{AlertID: "a2", Category: "freshness_failure", Severity: store.SeverityMedium})
	if len(pager.sent) != 1 {
		t.Fatalf("severity floor ignored")
	}
	if len(mail.sent) != 2 {
		t.Fatalf("catch-all route missed an alert")
	}
}

func TestDispatchTableWildcard(t *testing.T) {
	ch := &fakeChannel{name: "finance"}
	r := NewRouter([]Route{
		{TablePattern: "fct_*", Channels: []string{"finance"}},
	}, []Channel{ch}, nil)

	r.Dispatch(context.Background(), Payload{AlertID: "a1", Table: "fct_orders", Severity: store.SeverityLow})
	r.Dispatch(context.Background(), Payload{AlertID: "a2", Table: "dim_customer", Severity: store.SeverityLow})
	if len(ch.sent) != 1 || ch.sent[0].AlertID != "a1" {
		t.Fatalf("sent = %+v", ch.sent)
	}
}

func TestDispatchDeduplicatesChannels(t *testing.T) {
	ch := &fakeChannel{name: "ops"}
	r := NewRouter([]Route{
		{Category: "volume_anomaly", Channels: []string{"ops"}},
		{MinSeverity: store.SeverityLow, Channels: []string{"ops"}},
	}, []Channel{ch}, nil)

	r.Dispatch(context.Background(), Payload{AlertID: "a1", Category: "volume_anomaly", Severity: store.SeverityHigh})
	if len(ch.sent) != 1 {
		t.Fatalf("channel received %d copies, want 1", len(ch.sent))
	}
}

func TestDispatchFailedChannelDoesNotBlockOthers(t *testing.T) {
	broken := &fakeChannel{name: "broken", err: errors.New("boom")}
	ok := &fakeChannel{name: "ok"}
	r := NewRouter([]Route{
		{Channels: []string{"broken", "ok"}},
	}, []Channel{broken, ok}, nil)

	r.Dispatch(context.Background(), Payload{AlertID: "a1", Severity: store.SeverityLow})
	if len(ok.sent) != 1 {
		t.Fatalf("healthy channel skipped after sibling failure")
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			t.Errorf("method = %s", req.Method)
		}
		if ct := req.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL)
	err := ch.Send(context.Background(), Payload{AlertID: "a1", Severity: store.SeverityHigh})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.AlertID != "a1" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("hook", srv.URL)
	if err := ch.Send(context.Background(), Payload{AlertID: "a1"}); err == nil {
		t.Fatalf("5xx response accepted")
	}
}

func TestBuildPayloadCarriesCriticalityBreakdown(t *testing.T) {
	alert := store.Alert{
		ID: "a1", Category: "completeness_failure", Severity: store.SeverityHigh,
		Criticality: store.CriticalityScore{BaseSeverity: 50, FinancialImpact: 20, Total: 90},
		Recommendations: []string{"check upstream load job"},
	}
	asset := store.Asset{Schema: "public", Table: "orders"}

	p := BuildPayload(alert, asset)
	if p.Criticality["total"] != 90 || p.Criticality["base_severity"] != 50 {
		t.Fatalf("criticality = %+v", p.Criticality)
	}
	if p.Table != "orders" || len(p.Recommendations) != 1 {
		t.Fatalf("payload = %+v", p)
	}
}

// Package grouping clusters related alerts under deterministic keys so one
// underlying problem surfaces as one notification thread.
package grouping

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/open-dqm/open-dqm/internal/store"
)

// GroupStore is the persistence surface the grouper needs.
type GroupStore interface {
	GetActiveGroupByKey(ctx context.Context, key string) (*store.AlertGroup, error)
	CreateGroup(ctx context.Context, g *store.AlertGroup) error
	TouchGroup(ctx context.Context, id, memberSeverity string, at time.Time) error
	SetGroupSeverity(ctx context.Context, id, severity string, at time.Time) error
	SetGroupStatus(ctx context.Context, id, status string) error
	SnoozeGroup(ctx context.Context, id string, until time.Time) error
	SetAlertGroup(ctx context.Context, alertID, groupID string) error
	ListAlertsByGroup(ctx context.Context, groupID string) ([]store.Alert, error)
}

// Grouper assigns alerts to groups and maintains group lifecycle.
type Grouper struct {
	Store GroupStore
	Now   func() time.Time
}

func NewGrouper(s GroupStore) *Grouper {
	return &Grouper{Store: s}
}

// Key derives the deterministic group key. Identical alerts always map to
// the same key regardless of arrival order.
func Key(category, assetID, dimension string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%s", category, assetID, dimension))
	return hex.EncodeToString(sum[:])
}

// Assign attaches the alert to the active group for its key, creating the
// group when none is active. The group severity is raised to the member's
// severity when the member outranks it, never lowered.
func (g *Grouper) Assign(ctx context.Context, alert *store.Alert) (*store.AlertGroup, error) {
	key := Key(alert.Category, alert.AssetID, alert.Dimension)
	now := g.now()

	group, err := g.Store.GetActiveGroupByKey(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		group = &store.AlertGroup{
			GroupKey:    key,
			Category:    alert.Category,
			AssetID:     alert.AssetID,
			Dimension:   alert.Dimension,
			Status:      store.GroupActive,
			Severity:    alert.Severity,
			FirstSeen:   now,
			LastUpdated: now,
		}
		if err := g.Store.CreateGroup(ctx, group); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if err := g.Store.TouchGroup(ctx, group.ID, alert.Severity, now); err != nil {
			return nil, err
		}
	}

	if err := g.Store.SetAlertGroup(ctx, alert.ID, group.ID); err != nil {
		return nil, err
	}
	alert.GroupID = group.ID
	return group, nil
}

// Reconcile updates group state after member resolution. A group with no
// members left open closes, and the next failure on the same key starts a
// fresh group; a group that stays open takes the max severity of its
// surviving unresolved members, so resolving the worst member lowers it.
func (g *Grouper) Reconcile(ctx context.Context, groupID string) error {
	alerts, err := g.Store.ListAlertsByGroup(ctx, groupID)
	if err != nil {
		return err
	}
	open := false
	severity := ""
	for _, a := range alerts {
		if a.Resolved {
			continue
		}
		open = true
		if store.SeverityRank(a.Severity) > store.SeverityRank(severity) {
			severity = a.Severity
		}
	}
	if !open {
		return g.Store.SetGroupStatus(ctx, groupID, store.GroupResolved)
	}
	if severity == "" {
		return nil
	}
	return g.Store.SetGroupSeverity(ctx, groupID, severity, g.now())
}

// Snooze silences the group until the deadline. Members raised while the
// snooze is active inherit the silence; detection itself keeps running.
func (g *Grouper) Snooze(ctx context.Context, groupID string, until time.Time) error {
	if !until.After(g.now()) {
		return fmt.Errorf("snooze deadline %s is in the past", until.Format(time.RFC3339))
	}
	return g.Store.SnoozeGroup(ctx, groupID, until)
}

// Snoozed reports whether the group is silenced at the given instant.
func Snoozed(group *store.AlertGroup, at time.Time) bool {
	return group != nil && group.Status == store.GroupSnoozed && at.Before(group.SnoozeUntil)
}

func (g *Grouper) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

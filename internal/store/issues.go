package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const issueColumns = `id, rule_id, asset_id, dimension, severity, status, first_seen,
	last_seen, occurrence_count, impact_score, last_severity_change`

func (s *Store) GetIssue(ctx context.Context, id string) (*Issue, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM quality_issues WHERE id = $1`, id)
	return scanIssueRow(row)
}

// RecordFailure creates or updates the issue for (rule, asset) on a failing
// result. The row is locked for the duration of the transaction so concurrent
// evaluators of the same asset cannot lose occurrence increments. Terminal
// sticky states (false_positive, wont_fix) are left untouched; a resolved
// issue is re-opened.
func (s *Store) RecordFailure(ctx context.Context, ruleID, assetID, dimension, severity string, at time.Time) (*Issue, error) {
	var out *Issue
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+issueColumns+` FROM quality_issues
			WHERE rule_id = $1 AND asset_id = $2
			ORDER BY first_seen DESC LIMIT 1
			FOR UPDATE`, ruleID, assetID)
		issue, err := scanIssueRow(row)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if issue == nil || issue.Status == IssueFalsePositive || issue.Status == IssueWontFix {
			if issue != nil {
				// Sticky user judgment; do not reopen.
				out = issue
				return nil
			}
			created := &Issue{
				ID:                 uuid.NewString(),
				RuleID:             ruleID,
				AssetID:            assetID,
				Dimension:          dimension,
				Severity:           severity,
				Status:             IssueOpen,
				FirstSeen:          at,
				LastSeen:           at,
				OccurrenceCount:    1,
				LastSeverityChange: at,
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO quality_issues (id, rule_id, asset_id, dimension, severity, status,
					first_seen, last_seen, occurrence_count, impact_score, last_severity_change)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
				created.ID, created.RuleID, created.AssetID, created.Dimension, created.Severity,
				created.Status, created.FirstSeen, created.LastSeen, created.OccurrenceCount,
				created.ImpactScore, created.LastSeverityChange)
			if err != nil {
				return err
			}
			out = created
			return nil
		}

		status := issue.Status
		if status == IssueResolved {
			status = IssueOpen
		}
		severityChange := issue.LastSeverityChange
		if SeverityRank(severity) > SeverityRank(issue.Severity) {
			issue.Severity = severity
			severityChange = at
		}
		issue.Status = status
		issue.LastSeen = at
		issue.OccurrenceCount++
		issue.LastSeverityChange = severityChange

		_, err = tx.Exec(ctx, `
			UPDATE quality_issues
			SET status=$2, severity=$3, last_seen=$4, occurrence_count=$5, last_severity_change=$6
			WHERE id=$1`,
			issue.ID, issue.Status, issue.Severity, issue.LastSeen, issue.OccurrenceCount,
			issue.LastSeverityChange)
		if err != nil {
			return err
		}
		out = issue
		return nil
	})
	return out, err
}

// RecordPass resolves the open issue for (rule, asset), if any, and returns
// its id. Sticky terminal states are untouched; an empty id means nothing
// was open.
func (s *Store) RecordPass(ctx context.Context, ruleID, assetID string, at time.Time) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		UPDATE quality_issues
		SET status = 'resolved', last_seen = $3
		WHERE rule_id = $1 AND asset_id = $2
		  AND status IN ('open','acknowledged','in_progress')
		RETURNING id`, ruleID, assetID, at).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

var issueTransitions = map[string][]string{
	IssueOpen:         {IssueAcknowledged, IssueInProgress, IssueResolved, IssueFalsePositive, IssueWontFix},
	IssueAcknowledged: {IssueInProgress, IssueResolved, IssueFalsePositive, IssueWontFix},
	IssueInProgress:   {IssueResolved, IssueFalsePositive, IssueWontFix},
}

// TransitionIssue applies a user-driven status change, enforcing the issue
// state machine.
func (s *Store) TransitionIssue(ctx context.Context, id, to string) (*Issue, error) {
	issue, err := s.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, next := range issueTransitions[issue.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("issue %s: invalid transition %s -> %s", id, issue.Status, to)
	}
	_, err = s.pool.Exec(ctx, `UPDATE quality_issues SET status = $2 WHERE id = $1`, id, to)
	if err != nil {
		return nil, err
	}
	issue.Status = to
	return issue, nil
}

func (s *Store) UpdateIssueImpact(ctx context.Context, id string, impact float64) error {
	_, err := s.pool.Exec(ctx, `UPDATE quality_issues SET impact_score = $2 WHERE id = $1`, id, impact)
	return err
}

func scanIssueRow(row interface{ Scan(...any) error }) (*Issue, error) {
	var i Issue
	err := row.Scan(&i.ID, &i.RuleID, &i.AssetID, &i.Dimension, &i.Severity, &i.Status,
		&i.FirstSeen, &i.LastSeen, &i.OccurrenceCount, &i.ImpactScore, &i.LastSeverityChange)
	if err != nil {
		return nil, notFound(err)
	}
	return &i, nil
}

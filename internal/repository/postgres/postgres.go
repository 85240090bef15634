// Package postgres implements the archive sink on PostgreSQL. Archived rows
// are immutable audit snapshots; the live state always lives in memory.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scribehq/scribe/core/internal/domain"
	"github.com/scribehq/scribe/core/internal/repository"
)

const defaultListLimit = 100

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.Archive = (*Repository)(nil)

// ArchiveError inserts an audit snapshot of a resolved error.
func (r *Repository) ArchiveError(ctx context.Context, record domain.TrackedError) error {
	payload, err := json.Marshal(errorSnapshot{
		Type:          record.Type,
		StackLocation: record.StackLocation,
		Tags:          record.Tags,
		Endpoint:      record.Context.Endpoint,
		UserID:        record.Context.UserID,
		Environment:   record.Context.Environment,
		Extra:         record.Context.Extra,
	})
	if err != nil {
		return fmt.Errorf("encode error snapshot: %w", err)
	}
	const query = `INSERT INTO archived_errors
		(fingerprint, message, category, severity, occurrences, first_seen, last_seen, resolved_by, resolved_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = r.pool.Exec(ctx, query,
		record.Fingerprint,
		record.Message,
		string(record.Category),
		string(record.Severity),
		record.Occurrences,
		record.FirstSeen,
		record.LastSeen,
		record.ResolvedBy,
		record.ResolvedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("archive error %s: %w", record.Fingerprint, err)
	}
	return nil
}

// ArchiveAlert inserts an audit snapshot of a resolved alert.
func (r *Repository) ArchiveAlert(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alertSnapshot{
		Source:          alert.Source,
		Message:         alert.Message,
		Level:           alert.Level,
		Escalations:     len(alert.History),
		AcknowledgedBy:  alert.AcknowledgedBy,
		ResolveNote:     alert.ResolveNote,
		UsersAffected:   alert.Impact.UsersAffected,
		RevenueEstimate: alert.Impact.RevenueEstimate,
		SLABreach:       alert.Impact.SLABreach,
		Labels:          alert.Labels,
	})
	if err != nil {
		return fmt.Errorf("encode alert snapshot: %w", err)
	}
	const query = `INSERT INTO archived_alerts
		(fingerprint, title, category, severity, status, occurrences, first_triggered, last_triggered, resolved_by, resolved_at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query,
		alert.Fingerprint,
		alert.Title,
		alert.Category,
		string(alert.Severity),
		string(alert.Status),
		alert.Occurrences,
		alert.FirstTriggered,
		alert.LastTriggered,
		alert.ResolvedBy,
		alert.ResolvedAt,
		payload,
	)
	if err != nil {
		return fmt.Errorf("archive alert %s: %w", alert.Fingerprint, err)
	}
	return nil
}

// ListArchivedAlerts fetches recent alert snapshots, newest first.
func (r *Repository) ListArchivedAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	const query = `SELECT fingerprint, title, category, severity, status, occurrences,
		first_triggered, last_triggered, resolved_by, resolved_at, detail
		FROM archived_alerts ORDER BY archived_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list archived alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var (
			alert      domain.Alert
			severity   string
			status     string
			resolvedAt *time.Time
			detail     []byte
		)
		if err := rows.Scan(
			&alert.Fingerprint,
			&alert.Title,
			&alert.Category,
			&severity,
			&status,
			&alert.Occurrences,
			&alert.FirstTriggered,
			&alert.LastTriggered,
			&alert.ResolvedBy,
			&resolvedAt,
			&detail,
		); err != nil {
			return nil, fmt.Errorf("scan archived alert: %w", err)
		}
		alert.Severity = domain.Severity(severity)
		alert.Status = domain.AlertStatus(status)
		alert.ResolvedAt = resolvedAt
		var snapshot alertSnapshot
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &snapshot); err != nil {
				return nil, fmt.Errorf("decode archived alert %s: %w", alert.Fingerprint, err)
			}
			alert.Source = snapshot.Source
			alert.Message = snapshot.Message
			alert.Level = snapshot.Level
			alert.AcknowledgedBy = snapshot.AcknowledgedBy
			alert.ResolveNote = snapshot.ResolveNote
			alert.Impact = domain.BusinessImpact{
				UsersAffected:   snapshot.UsersAffected,
				RevenueEstimate: snapshot.RevenueEstimate,
				SLABreach:       snapshot.SLABreach,
			}
			alert.Labels = snapshot.Labels
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived alerts: %w", err)
	}
	return out, nil
}

// errorSnapshot holds the variable-shape part of an archived error row.
type errorSnapshot struct {
	Type          string            `json:"type,omitempty"`
	StackLocation string            `json:"stack_location,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Endpoint      string            `json:"endpoint,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	Environment   string            `json:"environment,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// alertSnapshot holds the variable-shape part of an archived alert row.
type alertSnapshot struct {
	Source          string            `json:"source,omitempty"`
	Message         string            `json:"message,omitempty"`
	Level           int               `json:"level,omitempty"`
	Escalations     int               `json:"escalations,omitempty"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty"`
	ResolveNote     string            `json:"resolve_note,omitempty"`
	UsersAffected   int64             `json:"users_affected,omitempty"`
	RevenueEstimate float64           `json:"revenue_estimate,omitempty"`
	SLABreach       bool              `json:"sla_breach,omitempty"`
	Labels          map[string]string `json:"labels,omitempty"`
}

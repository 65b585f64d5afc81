package flags

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id, user_id, flag_type, status, severity, raised_by, description, resolution_notes,
	resolved_by, resolved_at, metadata, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFlag(s scanner) (*models.Flag, error) {
	f := &models.Flag{}
	var raw []byte
	err := s.Scan(&f.ID, &f.UserID, &f.Type, &f.Status, &f.Severity, &f.RaisedBy, &f.Description,
		&f.ResolutionNotes, &f.ResolvedBy, &f.ResolvedAt, &raw, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return f, nil
}

func (r *PostgresRepository) Create(ctx context.Context, f *models.Flag) error {
	meta := []byte("{}")
	if f.Metadata != nil {
		b, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = b
	}

	query := `
		INSERT INTO flags (id, user_id, flag_type, status, severity, raised_by, description, metadata,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err := r.db.ExecContext(ctx, query, f.ID, f.UserID, string(f.Type), string(f.Status), string(f.Severity),
		f.RaisedBy, f.Description, meta, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Flag, error) {
	query := `SELECT ` + selectColumns + ` FROM flags WHERE id = $1`
	f, err := scanFlag(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) Close(ctx context.Context, id string, status models.FlagStatus, notes string, by string, at time.Time) error {
	query := `
		UPDATE flags
		SET status = $2, resolution_notes = $3, resolved_by = $4, resolved_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), notes, by, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrInvalidTransition
	}
	return nil
}

func (r *PostgresRepository) ResolveAllActive(ctx context.Context, userID string, notes string, by string, at time.Time) (int64, error) {
	query := `
		UPDATE flags
		SET status = 'resolved', resolution_notes = $2, resolved_by = $3, resolved_at = $4, updated_at = $4
		WHERE user_id = $1 AND status = 'active'
	`
	res, err := r.db.ExecContext(ctx, query, userID, notes, by, at)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*models.Flag, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}

	query := `SELECT ` + selectColumns + ` FROM flags`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit, f.Offset)
		query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Flag
	for rows.Next() {
		fl, err := scanFlag(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, fl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) CountActiveBySeverity(ctx context.Context) (map[models.Severity]int, error) {
	query := `SELECT severity, COUNT(*) FROM flags WHERE status = 'active' GROUP BY severity`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Severity]int)
	for rows.Next() {
		var sev models.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[sev] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

package policies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

const selectColumns = `id, name, policy_year, rule_type, conditions, active, created_by, approved_by, approved_at,
	remarks, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*models.PolicyRule, error) {
	p := &models.PolicyRule{}
	var conditions []byte
	err := s.Scan(&p.ID, &p.Name, &p.Year, &p.RuleType, &conditions, &p.Active, &p.CreatedBy, &p.ApprovedBy,
		&p.ApprovedAt, &p.Remarks, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Conditions = conditions
	return p, nil
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.PolicyRule) error {
	query := `
		INSERT INTO policy_rules (id, name, policy_year, rule_type, conditions, active, created_by, remarks,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.Name, p.Year, string(p.RuleType), []byte(p.Conditions),
		p.Active, p.CreatedBy, p.Remarks, p.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.PolicyRule, error) {
	query := `SELECT ` + selectColumns + ` FROM policy_rules WHERE id = $1`
	p, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.PolicyRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.PolicyRule
	for rows.Next() {
		p, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListByYear(ctx context.Context, year int) ([]*models.PolicyRule, error) {
	query := `SELECT ` + selectColumns + `
		FROM policy_rules
		WHERE policy_year = $1
		ORDER BY created_at DESC`
	return r.list(ctx, query, year)
}

func (r *PostgresRepository) ListActive(ctx context.Context, year int) ([]*models.PolicyRule, error) {
	query := `SELECT ` + selectColumns + `
		FROM policy_rules
		WHERE policy_year = $1 AND active
		ORDER BY rule_type`
	return r.list(ctx, query, year)
}

func (r *PostgresRepository) LockYearType(ctx context.Context, year int, ruleType models.RuleType) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	key := fmt.Sprintf("policy_rules:%d:%s", year, ruleType)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeactivateOthers(ctx context.Context, year int, ruleType models.RuleType, keepID string, at time.Time) error {
	query := `
		UPDATE policy_rules
		SET active = FALSE, updated_at = $4
		WHERE policy_year = $1 AND rule_type = $2 AND id <> $3 AND active
	`
	if _, err := r.db.ExecContext(ctx, query, year, string(ruleType), keepID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	query := `UPDATE policy_rules SET active = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, active, at)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Approve(ctx context.Context, id string, approver string, remarks string, at time.Time) error {
	query := `
		UPDATE policy_rules
		SET approved_by = $2, approved_at = $4, remarks = $3, updated_at = $4
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, approver, remarks, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

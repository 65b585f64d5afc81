package verdicts

import (
	"context"
	"database/sql"
	"encoding/json"
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

func (r *PostgresRepository) Create(ctx context.Context, v *models.EligibilityVerdict) error {
	mismatches := v.Mismatches
	if mismatches == nil {
		mismatches = []string{}
	}
	raw, err := json.Marshal(mismatches)
	if err != nil {
		return fmt.Errorf("encode mismatches: %w", err)
	}

	query := `
		INSERT INTO eligibility_verdicts (id, user_id, policy_year, student_marks, claimed_category, declared_income,
			cutoff_status, cutoff_marks, category_validation, native_validation, income_validation, overall_status,
			eligibility_percentage, remarks, mismatches, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.db.ExecContext(ctx, query,
		v.ID, v.UserID, v.PolicyYear, v.StudentMarks, v.ClaimedCategory, v.DeclaredIncome,
		string(v.CutoffStatus), v.CutoffMarks, string(v.CategoryValidation), string(v.NativeValidation),
		string(v.IncomeValidation), string(v.OverallStatus), v.EligibilityPercentage, v.Remarks, raw, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Latest(ctx context.Context, userID string) (*models.EligibilityVerdict, error) {
	query := `
		SELECT id, user_id, policy_year, student_marks, claimed_category, declared_income, cutoff_status,
			cutoff_marks, category_validation, native_validation, income_validation, overall_status,
			eligibility_percentage, remarks, mismatches, admin_notes, reviewed_by, reviewed_at, created_at
		FROM eligibility_verdicts
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`
	v := &models.EligibilityVerdict{}
	var raw []byte
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&v.ID, &v.UserID, &v.PolicyYear, &v.StudentMarks, &v.ClaimedCategory, &v.DeclaredIncome, &v.CutoffStatus,
		&v.CutoffMarks, &v.CategoryValidation, &v.NativeValidation, &v.IncomeValidation, &v.OverallStatus,
		&v.EligibilityPercentage, &v.Remarks, &raw, &v.AdminNotes, &v.ReviewedBy, &v.ReviewedAt, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &v.Mismatches); err != nil {
			return nil, fmt.Errorf("decode mismatches: %w", err)
		}
	}
	return v, nil
}

func (r *PostgresRepository) Review(ctx context.Context, id string, status models.OverallStatus, notes string, reviewer string, at time.Time) error {
	query := `
		UPDATE eligibility_verdicts
		SET overall_status = $2, admin_notes = $3, reviewed_by = $4, reviewed_at = $5
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, string(status), notes, reviewer, at)
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

func (r *PostgresRepository) CountLatestByStatus(ctx context.Context) (map[models.OverallStatus]int, error) {
	query := `
		SELECT overall_status, COUNT(*)
		FROM (
			SELECT DISTINCT ON (user_id) user_id, overall_status
			FROM eligibility_verdicts
			ORDER BY user_id, created_at DESC, seq DESC
		) latest
		GROUP BY overall_status
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make(map[models.OverallStatus]int)
	for rows.Next() {
		var status models.OverallStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

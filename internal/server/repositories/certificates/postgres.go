package certificates

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

const selectColumns = `id, user_id, document_type, document_id, issuer_name, issue_date, expiry_date, holder_name,
	category, marks, metadata_hash, signature_valid, status, matched_with_profile, notes, raw_metadata,
	archive_key, retrieved_at, verified_at, verified_by, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.CertificateRecord, error) {
	c := &models.CertificateRecord{}
	var raw []byte
	err := s.Scan(&c.ID, &c.UserID, &c.DocumentType, &c.DocumentID, &c.IssuerName, &c.IssueDate, &c.ExpiryDate,
		&c.HolderName, &c.Category, &c.Marks, &c.MetadataHash, &c.SignatureValid, &c.Status, &c.MatchedWithProfile,
		&c.Notes, &raw, &c.ArchiveKey, &c.RetrievedAt, &c.VerifiedAt, &c.VerifiedBy, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.RawMetadata); err != nil {
			return nil, fmt.Errorf("decode raw metadata: %w", err)
		}
	}
	return c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.CertificateRecord) error {
	raw, err := json.Marshal(c.RawMetadata)
	if err != nil {
		return fmt.Errorf("encode raw metadata: %w", err)
	}
	if c.RawMetadata == nil {
		raw = []byte("{}")
	}

	query := `
		INSERT INTO certificate_records (id, user_id, document_type, document_id, issuer_name, issue_date,
			expiry_date, holder_name, category, marks, metadata_hash, signature_valid, status,
			matched_with_profile, notes, raw_metadata, archive_key, retrieved_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.UserID, string(c.DocumentType), c.DocumentID, c.IssuerName, c.IssueDate,
		c.ExpiryDate, c.HolderName, c.Category, c.Marks, c.MetadataHash, c.SignatureValid, string(c.Status),
		c.MatchedWithProfile, c.Notes, raw, c.ArchiveKey, c.RetrievedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.CertificateRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM certificate_records WHERE id = $1`

	c, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.CertificateRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.CertificateRecord
	for rows.Next() {
		c, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM certificate_records
		WHERE user_id = $1
		ORDER BY retrieved_at DESC, seq DESC`
	return r.list(ctx, query, userID)
}

func (r *PostgresRepository) LatestVerified(ctx context.Context, userID string) (map[models.DocumentType]*models.CertificateRecord, error) {
	query := `SELECT DISTINCT ON (document_type) ` + selectColumns + `
		FROM certificate_records
		WHERE user_id = $1 AND status = 'verified'
		ORDER BY document_type, retrieved_at DESC, seq DESC`
	recs, err := r.list(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.DocumentType]*models.CertificateRecord, len(recs))
	for _, c := range recs {
		out[c.DocumentType] = c
	}
	return out, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, ch StatusChange) error {
	query := `
		UPDATE certificate_records
		SET status = $3, matched_with_profile = $4, notes = $5, verified_by = $6, verified_at = $7, updated_at = $8
		WHERE id = $1 AND status = $2
	`
	res, err := r.db.ExecContext(ctx, query, ch.ID, string(ch.From), string(ch.To), ch.Matched, ch.Notes,
		ch.VerifiedBy, ch.VerifiedAt, ch.At)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrVersionConflict
	}
	return nil
}

func (r *PostgresRepository) UpdateNotes(ctx context.Context, id string, notes string, at time.Time) error {
	query := `UPDATE certificate_records SET notes = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, notes, at)
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

func (r *PostgresRepository) SetArchiveKey(ctx context.Context, id string, key string) error {
	query := `UPDATE certificate_records SET archive_key = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListPendingExpired(ctx context.Context, now time.Time) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + selectColumns + `
		FROM certificate_records
		WHERE status = 'pending' AND expiry_date IS NOT NULL AND expiry_date < $1
		ORDER BY retrieved_at, seq`
	return r.list(ctx, query, now)
}

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
)

// CompleteStatus is the merged verification snapshot of one student.
type CompleteStatus struct {
	UserID            string
	Connected         bool
	Certificates      []*models.CertificateRecord
	Summary           CertificateSummary
	RequiredDocuments map[models.DocumentType]bool
	Eligibility       *models.EligibilityVerdict
	ActiveFlags       []*models.Flag
}

// VerificationService assembles status views from the other services.
type VerificationService struct {
	vault       *TokenVault
	pipeline    *CertificatePipeline
	eligibility *EligibilityService
	ledger      *Ledger
}

func NewVerificationService(vault *TokenVault, pipeline *CertificatePipeline, elig *EligibilityService, ledger *Ledger) *VerificationService {
	return &VerificationService{vault: vault, pipeline: pipeline, eligibility: elig, ledger: ledger}
}

func (s *VerificationService) CompleteStatus(ctx context.Context, userID string) (*CompleteStatus, error) {
	connected, err := s.vault.HasActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error checking credential: %w", err)
	}
	certs := s.pipeline.ListForUser(ctx, userID)
	required, err := s.pipeline.RequiredDocumentsPresent(ctx, userID)
	if err != nil {
		return nil, err
	}
	verdict, err := s.eligibility.Latest(ctx, userID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return nil, fmt.Errorf("error loading verdict: %w", err)
	}

	return &CompleteStatus{
		UserID:            userID,
		Connected:         connected,
		Certificates:      certs,
		Summary:           Summarize(certs),
		RequiredDocuments: required,
		Eligibility:       verdict,
	}, nil
}

// StudentStatus is CompleteStatus plus the student's active flags.
func (s *VerificationService) StudentStatus(ctx context.Context, userID string) (*CompleteStatus, error) {
	st, err := s.CompleteStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.ActiveFlags, err = s.ledger.ListFlags(ctx, flags.Filter{UserID: userID, Status: models.FlagActive})
	if err != nil {
		return nil, fmt.Errorf("error listing flags: %w", err)
	}
	return st, nil
}

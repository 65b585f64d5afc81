package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/cryptox"
	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/provider"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/repomanager"
)

const (
	stateSize          = 32
	defaultTokenExpiry = time.Hour
)

// AuthorizationRequest is returned by BeginAuthorization. The caller keeps
// State in the user's session until the provider calls back.
type AuthorizationRequest struct {
	URL   string
	State string
}

// TokenVault owns the sealed document locker credential of every user.
// Downstream code obtains access tokens only through GetValidToken.
type TokenVault struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      provider.Client
	ledger      *Ledger
	key         []byte
	logger      logging.Logger
	now         func() time.Time
}

// NewTokenVault builds a vault. With a nil client or a key that is not 32
// bytes long every operation fails with common.ErrCredentialsNotConfigured.
func NewTokenVault(db *sql.DB, m repomanager.RepositoryManager, client provider.Client, ledger *Ledger, key []byte, logger logging.Logger) *TokenVault {
	return &TokenVault{
		db:          db,
		repomanager: m,
		client:      client,
		ledger:      ledger,
		key:         key,
		logger:      logger.With("component", "token_vault"),
		now:         time.Now,
	}
}

// Configured reports whether provider credentials and key material are set.
func (v *TokenVault) Configured() bool {
	return v.client != nil && len(v.key) == 32
}

func (v *TokenVault) BeginAuthorization(ctx context.Context, userID string) (*AuthorizationRequest, error) {
	if !v.Configured() {
		return nil, common.ErrCredentialsNotConfigured
	}
	state, err := common.MakeRandHexString(stateSize)
	if err != nil {
		return nil, fmt.Errorf("error generating state: %w", err)
	}
	return &AuthorizationRequest{URL: v.client.AuthorizationURL(state), State: state}, nil
}

// CompleteAuthorization checks the callback state against sessionState,
// exchanges code for tokens and stores them as the user's only active
// credential.
func (v *TokenVault) CompleteAuthorization(ctx context.Context, userID, code, state, sessionState string) error {
	if !v.Configured() {
		return common.ErrCredentialsNotConfigured
	}
	if code == "" || state == "" {
		return common.ErrMissingParameters
	}
	if !cryptox.ConstantTimeEqual(state, sessionState) {
		v.ledger.Record(ctx, AuditRecord{
			ActorID:      &userID,
			Action:       ActionCsrfFailed,
			ResourceType: models.ResourceAuth,
			StatusCode:   403,
		})
		return common.ErrCsrfValidationFailed
	}

	tok, err := v.client.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("error exchanging code: %w", err)
	}

	now := v.now().UTC()
	cred := &models.OAuthCredential{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenType: tok.TokenType,
		ExpiresAt: now.Add(expiresIn(tok)),
		Active:    true,
		IssuedAt:  now,
	}
	cred.ExternalAccountID = models.StringPtr(tok.UserID)

	if info, err := v.client.GetUser(ctx, tok.AccessToken); err != nil {
		v.logger.Warn(ctx, "fetching document locker profile failed", "user_id", userID, "error", err)
	} else if info.UID != "" {
		hash := cryptox.SHA256Hex([]byte(info.UID))
		cred.NationalIDHash = &hash
		if cred.ExternalAccountID == nil {
			cred.ExternalAccountID = &info.UID
		}
	}

	if cred.AccessToken, err = cryptox.SealToken(tok.AccessToken, v.key); err != nil {
		return fmt.Errorf("error sealing access token: %w", err)
	}
	if tok.RefreshToken != "" {
		sealed, err := cryptox.SealToken(tok.RefreshToken, v.key)
		if err != nil {
			return fmt.Errorf("error sealing refresh token: %w", err)
		}
		cred.RefreshToken = &sealed
	}

	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := v.repomanager.Credentials(tx)
		if err := repo.LockUser(ctx, userID); err != nil {
			return err
		}
		if _, err := repo.DeactivateActive(ctx, userID, now); err != nil {
			return err
		}
		return repo.Create(ctx, cred)
	})
	if err != nil {
		return fmt.Errorf("error storing credential: %w", err)
	}

	v.ledger.Record(ctx, AuditRecord{
		ActorID:      &userID,
		Action:       ActionTokenStored,
		ResourceType: models.ResourceCredential,
		ResourceID:   &cred.ID,
		Detail:       map[string]any{"expiresAt": cred.ExpiresAt.Format(time.RFC3339)},
	})
	return nil
}

// GetValidToken returns the plaintext access token of userID, refreshing
// it first when it has expired. Every failure to produce a usable token is
// reported as common.ErrNoUsableToken.
func (v *TokenVault) GetValidToken(ctx context.Context, userID string) (string, error) {
	if !v.Configured() {
		return "", common.ErrCredentialsNotConfigured
	}
	cred, err := v.repomanager.Credentials(v.db).FindActive(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrNoUsableToken
		}
		return "", fmt.Errorf("error loading credential: %w", err)
	}

	if cred.Expired(v.now()) {
		access, err := v.refresh(ctx, userID)
		if err != nil {
			if _, derr := v.repomanager.Credentials(v.db).Deactivate(ctx, cred.ID, v.now().UTC()); derr != nil {
				v.logger.Error(ctx, "deactivating credential failed", "user_id", userID, "error", derr)
			}
			return "", common.ErrNoUsableToken
		}
		return access, nil
	}

	access, err := cryptox.OpenToken(cred.AccessToken, v.key)
	if err != nil {
		v.logger.Warn(ctx, "unsealing access token failed", "user_id", userID, "error", err)
		return "", common.ErrNoUsableToken
	}
	return access, nil
}

// Refresh exchanges the stored refresh token for new tokens. It writes
// exactly one audit entry per call and leaves the stored row untouched on
// failure.
func (v *TokenVault) Refresh(ctx context.Context, userID string) error {
	if !v.Configured() {
		return common.ErrCredentialsNotConfigured
	}
	_, err := v.refresh(ctx, userID)
	return err
}

func (v *TokenVault) refresh(ctx context.Context, userID string) (string, error) {
	repo := v.repomanager.Credentials(v.db)
	cred, err := repo.FindActive(ctx, userID)
	if err != nil {
		status := 500
		if errors.Is(err, common.ErrorNotFound) {
			status = 404
			err = common.ErrNoUsableToken
		}
		v.refreshFailed(ctx, userID, nil, status, "no_active_credential")
		return "", err
	}
	if cred.RefreshToken == nil {
		v.refreshFailed(ctx, userID, &cred.ID, 400, "no_refresh_token")
		return "", common.ErrNoUsableToken
	}
	refreshToken, err := cryptox.OpenToken(*cred.RefreshToken, v.key)
	if err != nil {
		v.refreshFailed(ctx, userID, &cred.ID, 500, "unseal_failed")
		return "", common.ErrNoUsableToken
	}

	tok, err := v.client.Refresh(ctx, refreshToken)
	if err != nil {
		status := provider.StatusCode(err)
		if status == 0 {
			status = 500
		}
		v.refreshFailed(ctx, userID, &cred.ID, status, err.Error())
		return "", fmt.Errorf("error refreshing token: %w", err)
	}

	sealedAccess, err := cryptox.SealToken(tok.AccessToken, v.key)
	if err != nil {
		v.refreshFailed(ctx, userID, &cred.ID, 500, "seal_failed")
		return "", fmt.Errorf("error sealing access token: %w", err)
	}
	sealedRefresh := cred.RefreshToken
	if tok.RefreshToken != "" {
		s, err := cryptox.SealToken(tok.RefreshToken, v.key)
		if err != nil {
			v.refreshFailed(ctx, userID, &cred.ID, 500, "seal_failed")
			return "", fmt.Errorf("error sealing refresh token: %w", err)
		}
		sealedRefresh = &s
	}

	now := v.now().UTC()
	expiresAt := now.Add(expiresIn(tok))
	ok, err := repo.ReplaceTokens(ctx, cred.ID, sealedAccess, sealedRefresh, expiresAt, now)
	if err != nil {
		v.refreshFailed(ctx, userID, &cred.ID, 500, "store_failed")
		return "", fmt.Errorf("error storing refreshed token: %w", err)
	}
	if !ok {
		v.refreshFailed(ctx, userID, &cred.ID, 409, "credential_deactivated")
		return "", common.ErrVersionConflict
	}

	v.ledger.Record(ctx, AuditRecord{
		ActorID:      &userID,
		Action:       ActionTokenRefreshed,
		ResourceType: models.ResourceCredential,
		ResourceID:   &cred.ID,
		Detail:       map[string]any{"expiresAt": expiresAt.Format(time.RFC3339)},
	})
	return tok.AccessToken, nil
}

func (v *TokenVault) refreshFailed(ctx context.Context, userID string, credID *string, status int, reason string) {
	v.ledger.Record(ctx, AuditRecord{
		ActorID:      &userID,
		Action:       ActionTokenRefreshFailed,
		ResourceType: models.ResourceCredential,
		ResourceID:   credID,
		StatusCode:   status,
		Detail:       map[string]any{"reason": reason},
	})
}

// Revoke deactivates the user's credential. Revoking when nothing is
// active succeeds.
func (v *TokenVault) Revoke(ctx context.Context, userID string) error {
	n, err := v.repomanager.Credentials(v.db).Revoke(ctx, userID, v.now().UTC())
	if err != nil {
		return fmt.Errorf("error revoking credential: %w", err)
	}
	v.ledger.Record(ctx, AuditRecord{
		ActorID:      &userID,
		Action:       ActionTokenRevoked,
		ResourceType: models.ResourceCredential,
		Detail:       map[string]any{"already_inactive": n == 0},
	})
	return nil
}

// HasActive reports whether userID holds an active credential.
func (v *TokenVault) HasActive(ctx context.Context, userID string) (bool, error) {
	_, err := v.repomanager.Credentials(v.db).FindActive(ctx, userID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SweepExpired deactivates every active credential past its expiry.
func (v *TokenVault) SweepExpired(ctx context.Context) (int64, error) {
	n, err := v.repomanager.Credentials(v.db).DeactivateExpired(ctx, v.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error sweeping credentials: %w", err)
	}
	if n > 0 {
		v.ledger.Record(ctx, AuditRecord{
			Action:       ActionCredentialsSwept,
			ResourceType: models.ResourceCredential,
			Detail:       map[string]any{"deactivated": n},
		})
	}
	return n, nil
}

func expiresIn(tok *provider.TokenResponse) time.Duration {
	if tok.ExpiresIn <= 0 {
		return defaultTokenExpiry
	}
	return time.Duration(tok.ExpiresIn) * time.Second
}

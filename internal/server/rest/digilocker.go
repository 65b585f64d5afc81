package rest

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/sessions"
)

func (s *Server) authorize(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	req, err := s.deps.Vault.BeginAuthorization(ctx, uid)
	if err != nil {
		return err
	}
	if err := s.deps.States.Put(ctx, uid, req.State); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"authUrl": req.URL, "state": req.State})
}

// callback completes the provider redirect. The pending state is taken
// out of the store before anything else, so it is gone whatever the
// outcome.
func (s *Server) callback(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	sessionState, err := s.deps.States.Take(ctx, uid)
	if err != nil && !errors.Is(err, sessions.ErrNoState) {
		s.logger.Warn(ctx, "failed to load authorization state", "user_id", uid, "error", err)
	}

	if err := s.deps.Vault.CompleteAuthorization(ctx, uid, c.QueryParam("code"), c.QueryParam("state"), sessionState); err != nil {
		return err
	}

	s.deps.Ledger.Record(ctx, services.AuditRecord{
		ActorID:      &uid,
		Action:       services.ActionAuthenticated,
		ResourceType: models.ResourceAuth,
	})
	return c.Redirect(http.StatusFound, s.deps.CallbackRedirect)
}

func (s *Server) logout(c echo.Context) error {
	if err := s.deps.Vault.Revoke(c.Request().Context(), userID(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "message": "DigiLocker disconnected"})
}

package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/eligibility"
)

type eligibilityRequest struct {
	StudentMarks   *float64 `json:"studentMarks" validate:"required,gte=0,lte=200"`
	Category       string   `json:"category" validate:"required"`
	NativeState    string   `json:"nativeState" validate:"required"`
	DeclaredIncome float64  `json:"income" validate:"gte=0"`
	Year           int      `json:"year" validate:"omitempty,gte=2000"`
}

func (r eligibilityRequest) input(userID string) eligibility.Input {
	return eligibility.Input{
		UserID:         userID,
		Year:           r.Year,
		StudentMarks:   *r.StudentMarks,
		Category:       r.Category,
		NativeState:    r.NativeState,
		DeclaredIncome: r.DeclaredIncome,
	}
}

func (s *Server) checkEligibility(c echo.Context) error {
	var req eligibilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	uid := userID(c)
	v, err := s.deps.Eligibility.Evaluate(c.Request().Context(), uid, req.input(uid))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVerdictView(v))
}

func (s *Server) eligibilityStatus(c echo.Context) error {
	v, err := s.deps.Eligibility.Latest(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVerdictView(v))
}

func (s *Server) completeStatus(c echo.Context) error {
	st, err := s.deps.Verification.CompleteStatus(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toStatusView(st))
}

package rest

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/audit"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// page reads limit and offset query parameters, clamping limit to
// [1, maxPageSize].
func page(c echo.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err = strconv.Atoi(c.QueryParam("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Server) studentStatus(c echo.Context) error {
	st, err := s.deps.Verification.StudentStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toStatusView(st))
}

type flagRequest struct {
	FlagType    string         `json:"flagType" validate:"required,oneof=manual_review data_mismatch fraud_alert pending_approval"`
	Severity    string         `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Description string         `json:"description" validate:"required"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) flagStudent(c echo.Context) error {
	var req flagRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	actor := userID(c)
	f, err := s.deps.Ledger.RaiseFlag(c.Request().Context(), services.RaiseFlagInput{
		UserID:      c.Param("id"),
		Type:        models.FlagType(req.FlagType),
		Severity:    models.Severity(req.Severity),
		Description: req.Description,
		RaisedBy:    &actor,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toFlagView(f))
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) resolveFlag(c echo.Context) error {
	var req notesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.deps.Ledger.ResolveFlag(c.Request().Context(), userID(c), c.Param("id"), req.Notes); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (s *Server) dismissFlag(c echo.Context) error {
	var req notesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := s.deps.Ledger.DismissFlag(c.Request().Context(), userID(c), c.Param("id"), req.Notes); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (s *Server) listFlags(c echo.Context) error {
	limit, offset := page(c)
	fs, err := s.deps.Ledger.ListFlags(c.Request().Context(), flags.Filter{
		UserID:   c.QueryParam("userId"),
		Status:   models.FlagStatus(c.QueryParam("status")),
		Severity: models.Severity(c.QueryParam("severity")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"flags": toFlagViews(fs), "limit": limit, "offset": offset})
}

func (s *Server) approveStudent(c echo.Context) error {
	var req notesRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	v, err := s.deps.Eligibility.Approve(c.Request().Context(), userID(c), c.Param("id"), req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "eligibility": toVerdictView(v)})
}

func (s *Server) evaluateStudent(c echo.Context) error {
	var req eligibilityRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	v, err := s.deps.Eligibility.Evaluate(c.Request().Context(), userID(c), req.input(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toVerdictView(v))
}

func (s *Server) auditLogs(c echo.Context) error {
	limit, offset := page(c)
	entries, total, err := s.deps.Ledger.ListAudit(c.Request().Context(), audit.Filter{
		UserID: c.QueryParam("userId"),
		Action: c.QueryParam("action"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"logs":   toAuditViews(entries),
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) dashboardStats(c echo.Context) error {
	st, err := s.deps.Ledger.DashboardStats(c.Request().Context())
	if err != nil {
		return err
	}
	counts := make(map[string]int, len(st.VerdictCounts))
	for k, v := range st.VerdictCounts {
		counts[string(k)] = v
	}
	return c.JSON(http.StatusOK, echo.Map{
		"eligibility": counts,
		"flags": echo.Map{
			"active":   st.ActiveFlags,
			"critical": st.CriticalFlags,
			"high":     st.HighFlags,
		},
		"recentActivity":  toAuditViews(st.RecentActivity),
		"totalAuditCount": st.TotalAuditCount,
	})
}

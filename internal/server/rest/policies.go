package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
)

func (s *Server) listPolicies(c echo.Context) error {
	year := s.now().Year()
	if raw := c.QueryParam("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid year")
		}
		year = y
	}
	ps, err := s.deps.Policies.List(c.Request().Context(), year)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"policies": toPolicyViews(ps)})
}

type policyRequest struct {
	Name       string          `json:"policyName" validate:"required"`
	Year       int             `json:"year" validate:"required,gte=2000"`
	RuleType   string          `json:"ruleType" validate:"required,oneof=cutoff category nativity income"`
	Conditions json.RawMessage `json:"conditions" validate:"required"`
	Active     bool            `json:"isActive"`
	Remarks    string          `json:"remarks"`
}

func (s *Server) createPolicy(c echo.Context) error {
	var req policyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := s.deps.Policies.Create(c.Request().Context(), userID(c), services.NewPolicy{
		Name:       req.Name,
		Year:       req.Year,
		RuleType:   models.RuleType(req.RuleType),
		Conditions: req.Conditions,
		Active:     req.Active,
		Remarks:    req.Remarks,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toPolicyView(p))
}

func (s *Server) activatePolicy(c echo.Context) error {
	p, err := s.deps.Policies.Activate(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPolicyView(p))
}

func (s *Server) deactivatePolicy(c echo.Context) error {
	p, err := s.deps.Policies.Deactivate(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPolicyView(p))
}

type approvePolicyRequest struct {
	Remarks string `json:"remarks"`
}

func (s *Server) approvePolicy(c echo.Context) error {
	var req approvePolicyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := s.deps.Policies.Approve(c.Request().Context(), userID(c), c.Param("id"), req.Remarks)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toPolicyView(p))
}

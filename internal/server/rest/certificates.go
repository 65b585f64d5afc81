package rest

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
)

type retrievedView struct {
	ID             string `json:"id"`
	DocumentType   string `json:"type"`
	IssuerName     string `json:"issuer"`
	Status         string `json:"status"`
	SignatureValid *bool  `json:"signatureValid,omitempty"`
}

func (s *Server) retrieveCertificates(c echo.Context) error {
	got, err := s.deps.Certificates.RetrieveAll(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}

	out := make([]retrievedView, 0, len(got))
	for _, r := range got {
		out = append(out, retrievedView{
			ID:             r.ID,
			DocumentType:   string(r.DocumentType),
			IssuerName:     r.IssuerName,
			Status:         string(r.Status),
			SignatureValid: r.SignatureValid,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":               true,
		"certificatesRetrieved": len(out),
		"certificates":          out,
	})
}

func (s *Server) certificateStatus(c echo.Context) error {
	ctx := c.Request().Context()
	uid := userID(c)

	recs := s.deps.Certificates.ListForUser(ctx, uid)
	required, err := s.deps.Certificates.RequiredDocumentsPresent(ctx, uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"summary":           toSummaryView(services.Summarize(recs)),
		"requiredDocuments": toRequiredView(required),
		"certificates":      toCertificateViews(recs),
	})
}

type verifyRequest struct {
	Notes     string `json:"notes"`
	IsMatched *bool  `json:"isMatched"`
}

func (s *Server) verifyCertificate(c echo.Context) error {
	var req verifyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	matched := true
	if req.IsMatched != nil {
		matched = *req.IsMatched
	}
	return s.transition(c, models.CertificateVerified, matched, req.Notes)
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (s *Server) rejectCertificate(c echo.Context) error {
	var req rejectRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	return s.transition(c, models.CertificateRejected, false, req.Reason)
}

type statusRequest struct {
	Status    string `json:"status" validate:"required,oneof=pending verified rejected expired"`
	IsMatched bool   `json:"isMatched"`
	Notes     string `json:"notes"`
}

func (s *Server) updateCertificateStatus(c echo.Context) error {
	var req statusRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	return s.transition(c, models.CertificateStatus(req.Status), req.IsMatched, req.Notes)
}

func (s *Server) transition(c echo.Context, status models.CertificateStatus, matched bool, notes string) error {
	actor := userID(c)
	rec, err := s.deps.Certificates.TransitionStatus(c.Request().Context(), &actor, c.Param("id"), status, matched, notes)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "certificate": toCertificateView(rec)})
}

func (s *Server) certificateArchive(c echo.Context) error {
	url, err := s.deps.Certificates.ArchiveURL(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"url": url})
}

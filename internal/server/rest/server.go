// Package rest exposes the verification services over HTTP using echo.
package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/eligibility"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/audit"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/sessions"
)

type Vault interface {
	BeginAuthorization(ctx context.Context, userID string) (*services.AuthorizationRequest, error)
	CompleteAuthorization(ctx context.Context, userID, code, state, sessionState string) error
	Revoke(ctx context.Context, userID string) error
}

type Certificates interface {
	RetrieveAll(ctx context.Context, userID string) ([]services.RetrievedCertificate, error)
	TransitionStatus(ctx context.Context, actorID *string, certID string, newStatus models.CertificateStatus, matched bool, notes string) (*models.CertificateRecord, error)
	RequiredDocumentsPresent(ctx context.Context, userID string) (map[models.DocumentType]bool, error)
	ListForUser(ctx context.Context, userID string) []*models.CertificateRecord
	ArchiveURL(ctx context.Context, certID string) (string, error)
}

type Eligibility interface {
	Evaluate(ctx context.Context, actorID string, in eligibility.Input) (*models.EligibilityVerdict, error)
	Latest(ctx context.Context, userID string) (*models.EligibilityVerdict, error)
	Approve(ctx context.Context, reviewerID, userID, notes string) (*models.EligibilityVerdict, error)
}

type Verification interface {
	CompleteStatus(ctx context.Context, userID string) (*services.CompleteStatus, error)
	StudentStatus(ctx context.Context, userID string) (*services.CompleteStatus, error)
}

type Ledger interface {
	Record(ctx context.Context, r services.AuditRecord)
	RaiseFlag(ctx context.Context, in services.RaiseFlagInput) (*models.Flag, error)
	ResolveFlag(ctx context.Context, resolverID, flagID, notes string) error
	DismissFlag(ctx context.Context, resolverID, flagID, notes string) error
	ListAudit(ctx context.Context, f audit.Filter) ([]*models.AuditEntry, int, error)
	ListFlags(ctx context.Context, f flags.Filter) ([]*models.Flag, error)
	DashboardStats(ctx context.Context) (*services.DashboardStats, error)
}

type Policies interface {
	Create(ctx context.Context, creatorID string, in services.NewPolicy) (*models.PolicyRule, error)
	Activate(ctx context.Context, actorID, id string) (*models.PolicyRule, error)
	Deactivate(ctx context.Context, actorID, id string) (*models.PolicyRule, error)
	Approve(ctx context.Context, approverID, id, remarks string) (*models.PolicyRule, error)
	List(ctx context.Context, year int) ([]*models.PolicyRule, error)
}

// Deps bundles everything the HTTP layer calls into.
type Deps struct {
	Vault        Vault
	Certificates Certificates
	Eligibility  Eligibility
	Verification Verification
	Ledger       Ledger
	Policies     Policies
	States       sessions.StateStore

	JWTSecret        []byte
	CallbackRedirect string
}

type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger logging.Logger
	now    func() time.Time
}

func NewServer(deps Deps, logger logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger.With("component", "rest"),
		now:    time.Now,
	}
	e.HTTPErrorHandler = s.errorHandler
	e.Use(RequestMeta(), RequestLogger(s.logger))
	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	jwtAuth := JWTAuth(s.deps.JWTSecret)
	student := s.echo.Group("/api", jwtAuth, RequireRole(common.RoleStudent, common.RoleAdmin, common.RoleSuperAdmin))
	student.POST("/auth/digilocker/authorize", s.authorize)
	student.GET("/auth/digilocker/callback", s.callback)
	student.POST("/auth/digilocker/logout", s.logout)
	student.POST("/certificates/retrieve", s.retrieveCertificates)
	student.GET("/certificates/status", s.certificateStatus)
	student.POST("/eligibility/check", s.checkEligibility)
	student.GET("/eligibility/status", s.eligibilityStatus)
	student.GET("/verification/complete-status", s.completeStatus)

	admin := s.echo.Group("/api/admin", jwtAuth, RequireRole(common.RoleAdmin, common.RoleSuperAdmin))
	admin.GET("/students/:id/verification-status", s.studentStatus)
	admin.POST("/students/:id/flag", s.flagStudent)
	admin.POST("/students/:id/approve", s.approveStudent)
	admin.POST("/students/:id/evaluate", s.evaluateStudent)
	admin.POST("/certificates/:id/verify", s.verifyCertificate)
	admin.POST("/certificates/:id/reject", s.rejectCertificate)
	admin.POST("/certificates/:id/status", s.updateCertificateStatus)
	admin.GET("/certificates/:id/archive", s.certificateArchive)
	admin.POST("/flags/:id/resolve", s.resolveFlag)
	admin.POST("/flags/:id/dismiss", s.dismissFlag)
	admin.GET("/flags", s.listFlags)
	admin.GET("/audit-logs", s.auditLogs)
	admin.GET("/dashboard-stats", s.dashboardStats)
	admin.GET("/policies", s.listPolicies)

	super := s.echo.Group("/api/admin/policies", jwtAuth, RequireRole(common.RoleSuperAdmin))
	super.POST("", s.createPolicy)
	super.POST("/:id/activate", s.activatePolicy)
	super.POST("/:id/deactivate", s.deactivatePolicy)
	super.POST("/:id/approve", s.approvePolicy)
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info(context.Background(), "HTTP server listening", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

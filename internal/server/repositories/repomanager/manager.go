package repomanager

import (
	"context"
	"database/sql"

	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/audit"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/certificates"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/credentials"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/policies"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/verdicts"
)

// RepositoryManager vends repositories bound to a DBTX, so services can
// use the same repositories inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Credentials(db dbx.DBTX) credentials.Repository
	Certificates(db dbx.DBTX) certificates.Repository
	Policies(db dbx.DBTX) policies.Repository
	Verdicts(db dbx.DBTX) verdicts.Repository
	Flags(db dbx.DBTX) flags.Repository
	Audit(db dbx.DBTX) audit.Repository
}

// Package server initializes and runs the verification server.
// It opens the database, applies migrations, wires the optional Redis,
// RabbitMQ, S3 and document locker integrations, starts the background
// jobs and serves the HTTP API until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nikilm-offx/TNEA-Insight/internal/cryptox"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/archive"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/config"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/provider"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/repomanager"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/rest"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/scheduler"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/sessions"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	publisher events.Publisher
	closers   []func() error

	vault    *services.TokenVault
	pipeline *services.CertificatePipeline
	http     *rest.Server
	jobs     *scheduler.Scheduler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSON(os.Stdout, c.LogLevel)
	app := &App{config: c, logger: logger}

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	app.db = db
	app.closers = append(app.closers, db.Close)

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		app.close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	app.publisher = app.initPublisher(ctx)
	states := app.initStateStore(ctx)
	store := app.initArchive(ctx)

	var client provider.Client
	if c.ProviderConfigured() {
		client = provider.NewDigiLockerClient(provider.Options{
			ClientID:     c.ProviderClientID,
			ClientSecret: c.ProviderClientSecret,
			AuthURL:      c.ProviderAuthURL,
			TokenURL:     c.ProviderTokenURL,
			APIBase:      c.ProviderAPIBase,
			RedirectURI:  c.ProviderRedirectURI,
			Timeout:      c.ProviderTimeout,
			Logger:       logger,
		})
	}

	var key []byte
	if c.VaultKeyConfigured() {
		key, err = cryptox.ParseKeyMaterial(c.TokenEncryptionKey, c.TokenEncryptionSalt)
		if err != nil {
			logger.Error(ctx, "invalid token encryption key", "error", err)
			key = nil
		}
	}
	if client == nil || key == nil {
		logger.Warn(ctx, "credentials not retrievable: document locker client or token key not configured")
	}

	ledger := services.NewLedger(db, rm, app.publisher, logger)
	app.vault = services.NewTokenVault(db, rm, client, ledger, key, logger)

	var tokens services.TokenSource
	if app.vault.Configured() {
		tokens = app.vault
	}
	app.pipeline = services.NewCertificatePipeline(db, rm, services.PipelineOptions{
		Tokens:     tokens,
		Client:     client,
		Archive:    store,
		Ledger:     ledger,
		Publisher:  app.publisher,
		IssuerKeys: c.IssuerPublicKeys,
	}, logger)

	policies := services.NewPolicyStore(db, rm, ledger, logger)
	elig := services.NewEligibilityService(db, rm, policies, ledger, app.publisher, logger)
	verification := services.NewVerificationService(app.vault, app.pipeline, elig, ledger)

	app.http = rest.NewServer(rest.Deps{
		Vault:            app.vault,
		Certificates:     app.pipeline,
		Eligibility:      elig,
		Verification:     verification,
		Ledger:           ledger,
		Policies:         policies,
		States:           states,
		JWTSecret:        []byte(c.SecretKey),
		CallbackRedirect: c.CallbackRedirectURL,
	}, logger)

	if err := app.initJobs(); err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func (app *App) initPublisher(ctx context.Context) events.Publisher {
	if app.config.AMQPURL == "" {
		return events.NopPublisher{}
	}
	p, err := events.NewAMQPPublisher(app.config.AMQPURL, app.config.AMQPExchange, app.logger)
	if err != nil {
		app.logger.Warn(ctx, "rabbitmq unavailable, events disabled", "error", err)
		return events.NopPublisher{}
	}
	app.closers = append(app.closers, p.Close)
	return p
}

func (app *App) initStateStore(ctx context.Context) sessions.StateStore {
	if app.config.RedisAddr != "" {
		if rdb := sessions.NewRedisClient(ctx, app.config.RedisAddr, app.config.RedisPassword, app.config.RedisDB); rdb != nil {
			app.closers = append(app.closers, rdb.Close)
			return sessions.NewRedisStateStore(rdb, app.config.StateTTL)
		}
		app.logger.Warn(ctx, "redis unavailable, keeping authorization state in memory", "addr", app.config.RedisAddr)
	}
	return sessions.NewMemoryStateStore(app.config.StateTTL)
}

func (app *App) initArchive(ctx context.Context) archive.Archive {
	if !app.config.ArchiveConfigured() {
		return nil
	}
	a, err := archive.NewS3Archive(ctx, archive.Options{
		Region:       app.config.S3Region,
		AccessKey:    app.config.S3RootUser,
		SecretKey:    app.config.S3RootPassword,
		BaseEndpoint: app.config.S3BaseEndpoint,
		Bucket:       app.config.S3Bucket,
	})
	if err != nil {
		app.logger.Warn(ctx, "s3 archive unavailable, documents will not be archived", "error", err)
		return nil
	}
	return a
}

func (app *App) initJobs() error {
	app.jobs = scheduler.New(app.logger)
	if err := app.jobs.Add("credential-sweep", app.config.CredentialSweepSpec, func(ctx context.Context) error {
		_, err := app.vault.SweepExpired(ctx)
		return err
	}); err != nil {
		return err
	}
	return app.jobs.Add("certificate-expiry", app.config.CertificateSweepSpec, func(ctx context.Context) error {
		_, err := app.pipeline.ExpireStale(ctx)
		return err
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Start(app.config.EndpointAddrHTTP); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	app.jobs.Start()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	<-ctx.Done()
	app.logger.Info(context.Background(), "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.http.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "http shutdown failed", "error", err)
	}
	app.jobs.Stop(shutdownCtx)

	wg.Wait()
	app.close()
}

func (app *App) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Error(context.Background(), "close failed", "error", err)
		}
	}
}

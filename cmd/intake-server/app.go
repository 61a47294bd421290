package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/intake/internal/config"
	"github.com/ehr/intake/internal/domain/anamnesis"
	"github.com/ehr/intake/internal/domain/history"
	"github.com/ehr/intake/internal/domain/patient"
	"github.com/ehr/intake/internal/form"
	"github.com/ehr/intake/internal/platform/auth"
	"github.com/ehr/intake/internal/platform/blobstore"
	"github.com/ehr/intake/internal/platform/db"
	"github.com/ehr/intake/internal/platform/hipaa"
	"github.com/ehr/intake/internal/platform/middleware"
	"github.com/ehr/intake/internal/platform/sandbox"
	"github.com/ehr/intake/internal/platform/websocket"
)

const version = "0.1.0"

// capabilities lists the capture resources this deployment serves. Scanning
// and dictation happen on the client, so the API reports them as absent.
var capabilities = form.Capabilities{
	DocumentScan:      false,
	ExternalSignature: true,
	DrawnSignature:    true,
	VoiceDictation:    false,
}

type app struct {
	echo      *echo.Echo
	pool      *pgxpool.Pool
	patients  *patient.Service
	anamneses *anamnesis.Service
	drafts    *form.Registry
	seeder    *sandbox.Seeder
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// newApp builds the stores for the configured backend and mounts every
// route on a fresh echo instance.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	encSvc, err := hipaa.NewEncryptionService(cfg.PHIEncryptionKey, logger)
	if err != nil {
		return nil, err
	}

	a := &app{}
	hub := websocket.NewHub(logger)

	var (
		patientRepo   patient.Repository
		anamnesisRepo anamnesis.Repository
	)
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		logger.Info().Msg("connected to database")
		patientRepo = patient.NewPGRepo(pool, encSvc.Encryptor())
		anamnesisRepo = anamnesis.NewPGRepo(pool, encSvc.Encryptor())
	} else {
		patientRepo = patient.NewMemoryRepo(cfg.MemoryLatency)
		anamnesisRepo = anamnesis.NewMemoryRepo(cfg.MemoryLatency, func(ctx context.Context, id uuid.UUID) error {
			_, err := patientRepo.GetByID(ctx, id)
			return err
		})
	}

	a.patients = patient.NewService(patientRepo, logger,
		patient.WithPublisher(hub), patient.WithLocation(loc))
	a.anamneses = anamnesis.NewService(anamnesisRepo, a.patients, logger,
		anamnesis.WithPublisher(hub))
	a.drafts = form.NewRegistry(cfg.DraftTTL, logger)
	a.seeder = sandbox.NewSeeder(a.patients, a.anamneses, logger)

	var blobs blobstore.Store = blobstore.NewMemoryStore()
	if cfg.AttachmentDir != "" {
		disk, err := blobstore.NewDiskStore(cfg.AttachmentDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open attachment store: %w", err)
		}
		blobs = disk
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, echo.HeaderContentDisposition},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}
	e.Use(middleware.Audit(logger, nil))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"backend": cfg.StoreBackend,
		})
	})
	if a.pool != nil {
		e.GET("/health/db", db.HealthHandler(a.pool))
	}

	api := e.Group("/api/v1")
	patient.NewHandler(a.patients).RegisterRoutes(api)
	anamnesis.NewHandler(a.anamneses, blobs, loc).RegisterRoutes(api)
	history.NewHandler(history.NewView(a.anamneses, a.patients), loc).RegisterRoutes(api)
	form.NewHandler(a.drafts, a.patients, a.anamneses, capabilities).RegisterRoutes(api)
	blobstore.NewHandler(blobs).RegisterRoutes(api)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(api)
	if cfg.IsDev() {
		sandbox.NewSeedHandler(a.seeder).RegisterRoutes(api)
	}

	a.echo = e
	return a, nil
}

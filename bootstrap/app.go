// Package bootstrap wires storage, services, and the API server together
// and owns the process lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"redtrace/access"
	"redtrace/api"
	"redtrace/audit"
	"redtrace/config"
	"redtrace/service"
	"redtrace/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App represents the redtrace application with all its components
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite *storage.SQLite

	UserStorage      *storage.SQLiteUserStorage
	OperationStorage *storage.SQLiteOperationStorage
	TechniqueStorage *storage.SQLiteTechniqueStorage
	ToolStorage      *storage.SQLiteToolStorage
	TargetStorage    *storage.SQLiteTargetStorage
	MitreStorage     *storage.SQLiteMitreStorage
	AuditStorage     *storage.SQLiteAuditStorage

	Checker    access.Checker
	Recorder   *audit.Recorder
	Techniques *service.TechniqueService
	Operations *service.OperationService

	APIServer *api.API

	shutdownCh chan struct{}
}

// InitLogger builds the process logger from logging configuration
func InitLogger(level string, jsonOutput bool) (*zap.Logger, *zap.SugaredLogger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if jsonOutput {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	zapCore := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	logger := zap.New(zapCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// NewApp creates a new application instance and initializes all components
func NewApp(_ context.Context) (*App, error) {
	app := &App{shutdownCh: make(chan struct{})}

	cfg, err := config.LoadConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("redtrace starting...")

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}

	sqlite, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	app.SQLite = sqlite

	app.UserStorage = storage.NewSQLiteUserStorage(sqlite, sugar)
	app.OperationStorage = storage.NewSQLiteOperationStorage(sqlite, sugar)
	app.TechniqueStorage = storage.NewSQLiteTechniqueStorage(sqlite, sugar)
	app.ToolStorage = storage.NewSQLiteToolStorage(sqlite, sugar)
	app.TargetStorage = storage.NewSQLiteTargetStorage(sqlite, sugar)
	app.MitreStorage = storage.NewSQLiteMitreStorage(sqlite, sugar)
	app.AuditStorage = storage.NewSQLiteAuditStorage(sqlite, sugar)

	app.Checker = access.NewRoleChecker(app.UserStorage, sugar)
	app.Recorder = audit.NewRecorder(app.AuditStorage, sugar)

	app.Techniques = service.NewTechniqueService(
		app.TechniqueStorage,
		app.OperationStorage,
		app.ToolStorage,
		app.TargetStorage,
		app.MitreStorage,
		app.Checker,
		app.Recorder,
		sugar,
	)
	app.Operations = service.NewOperationService(
		app.OperationStorage,
		app.UserStorage,
		app.Checker,
		app.Recorder,
		sugar,
	)

	app.APIServer = api.NewAPI(
		app.Techniques,
		app.Operations,
		app.ToolStorage,
		app.TargetStorage,
		app.MitreStorage,
		app.UserStorage,
		app.AuditStorage,
		cfg,
		sugar,
	)

	return app, nil
}

// Start starts the API server
func (a *App) Start(_ context.Context) error {
	addr := fmt.Sprintf(":%d", a.Config.API.Port)
	a.Sugar.Infow("Starting API server", "addr", addr, "tls", a.Config.API.TLS)

	go func() {
		var err error
		if a.Config.API.TLS {
			err = a.APIServer.StartTLS(addr, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			err = a.APIServer.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorw("API server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// WaitForShutdown blocks until a shutdown signal is received
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	_ = a.Logger.Sync()
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/medalert/internal/action"
	"github.com/triage-ai/medalert/internal/collab"
	"github.com/triage-ai/medalert/internal/config"
	"github.com/triage-ai/medalert/internal/engine"
	"github.com/triage-ai/medalert/internal/ledger"
	"github.com/triage-ai/medalert/internal/pipeline"
	"github.com/triage-ai/medalert/internal/storage"
)

// app holds every wired component for one process.
type app struct {
	cfg         *config.Config
	logger      *zap.Logger
	pipeline    *pipeline.Pipeline
	dispatcher  *action.Dispatcher
	transcriber collab.Transcriber
	extractor   collab.Extractor
	reader      *storage.ClickHouseReader // nil if ClickHouse unavailable
	closers     []func()
}

// appOptions adjusts wiring for CLI commands.
type appOptions struct {
	forceDryRun bool // never place real calls
	withReader  bool // open the ClickHouse dispatch reader
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp wires the pipeline from cfg. Optional backends that are not
// configured fall back to local implementations; Postgres failures are
// returned because history must not silently move.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// Rules and advice
	rules := engine.LoadRules(cfg.Rules.Path, logger)
	advisor := engine.NewAdvisor(rules)

	// History ledger: Postgres when configured, JSON file otherwise.
	var hist ledger.Ledger
	if cfg.History.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.History.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		pg := ledger.NewPostgresLedger(db)
		a.closers = append(a.closers, func() { _ = pg.Close() })
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		hist = pg
		logger.Info("postgres history ledger connected")
	} else {
		fl := ledger.NewFileLedger(cfg.History.Path, logger)
		a.closers = append(a.closers, func() { _ = fl.Close() })
		hist = fl
		logger.Info("file history ledger", zap.String("path", cfg.History.Path))
	}
	ids, err := ledger.NewIDSourceFrom(ctx, hist)
	if err != nil {
		return nil, fmt.Errorf("seed history ids: %w", err)
	}

	// Dispatcher. A nil caller means dry run.
	var caller action.Caller
	if tc := action.NewTwilioCaller(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Action.CallTimeout()); tc != nil && !opts.forceDryRun {
		caller = tc
	}
	a.dispatcher = action.NewDispatcher(caller, action.DispatcherConfig{
		To:      cfg.Twilio.DoctorNumber,
		From:    cfg.Twilio.FromNumber,
		Timeout: cfg.Action.CallTimeout(),
	}, logger)
	if a.dispatcher.DryRun() {
		logger.Warn("call placement not fully configured, emergency calls will be simulated")
	}

	// Trigger strategy
	debouncer := buildDebouncer(ctx, cfg, logger, a)

	// Collaborators
	if cfg.Collab.TranscribeEndpoint != "" {
		a.transcriber = collab.NewHTTPTranscriber(cfg.Collab.TranscribeEndpoint, 0, logger)
	} else {
		a.transcriber = collab.MockTranscriber{}
		logger.Info("no TRANSCRIBE_ENDPOINT set, using mock transcriber")
	}
	if cfg.Collab.ExtractEndpoint != "" {
		a.extractor = collab.NewHTTPExtractor(cfg.Collab.ExtractEndpoint, 0, logger)
	} else {
		a.extractor = collab.NoopExtractor{}
	}

	// Dispatch audit, falling back to LogWriter.
	var writer storage.EventWriter
	if cfg.Audit.ClickHouseDSN != "" {
		chWriter, err := storage.NewClickHouseWriter(ctx, cfg.Audit.ClickHouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
			writer = storage.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
		if opts.withReader {
			reader, err := storage.NewClickHouseReader(ctx, cfg.Audit.ClickHouseDSN, logger)
			if err != nil {
				logger.Warn("clickhouse reader connection failed", zap.Error(err))
			} else {
				a.reader = reader
				a.closers = append(a.closers, func() { _ = reader.Close() })
				logger.Info("clickhouse reader connected")
			}
		}
	} else {
		writer = storage.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	a.closers = append(a.closers, writer.Close)

	p, err := pipeline.New(pipeline.Config{
		Advisor:           advisor,
		Ledger:            hist,
		Gate:              engine.NewGate(cfg.Action.TriggerThreshold),
		Dispatcher:        a.dispatcher,
		Extractor:         a.extractor,
		Debouncer:         debouncer,
		Events:            writer,
		IDs:               ids,
		AnalyzeConfidence: cfg.Action.AnalyzeConfidence,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.pipeline = p

	ok = true
	return a, nil
}

func buildDebouncer(ctx context.Context, cfg *config.Config, logger *zap.Logger, a *app) engine.Debouncer {
	cooldown := cfg.Action.Cooldown()
	if cooldown <= 0 {
		return engine.AuditOnly{}
	}
	if cfg.Action.RedisAddr != "" {
		rd := engine.NewRedisDebouncer(cfg.Action.RedisAddr, cfg.Action.RedisPassword, cfg.Action.RedisDB, cooldown)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := rd.Ping(pingCtx); err != nil {
			logger.Warn("redis unavailable, using in-memory cooldown", zap.Error(err))
			_ = rd.Close()
		} else {
			a.closers = append(a.closers, func() { _ = rd.Close() })
			logger.Info("redis debouncer enabled", zap.Duration("cooldown", cooldown))
			return rd
		}
	}
	logger.Info("in-memory debouncer enabled", zap.Duration("cooldown", cooldown))
	return engine.NewCooldownDebouncer(cooldown)
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

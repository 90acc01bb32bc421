// Package app wires the miquella components together and runs the event
// loop of one platform.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/TymurD/miquella/common/redact"
	"github.com/TymurD/miquella/internal/miquella/bot"
	"github.com/TymurD/miquella/internal/miquella/chat"
	"github.com/TymurD/miquella/internal/miquella/config"
	"github.com/TymurD/miquella/internal/miquella/matrix"
	"github.com/TymurD/miquella/internal/miquella/memory"
	"github.com/TymurD/miquella/internal/miquella/observability"
	"github.com/TymurD/miquella/internal/miquella/persona"
	"github.com/TymurD/miquella/internal/miquella/store"
)

// shutdownGrace is how long Run waits for in-flight turns after the
// platform stops delivering messages.
const shutdownGrace = 30 * time.Second

// Options selects what New builds.
type Options struct {
	ConfigPath string
	Platform   string

	// Console streams; default to stdin/stdout.
	In  io.Reader
	Out io.Writer

	// Secrets overrides the environment, for tests.
	Secrets *config.Secrets
}

// App is a running bot.
type App struct {
	cfg     *config.File
	path    string
	logger  *slog.Logger
	store   *store.Store
	persona *persona.Store
	index   *memory.Index
	writer  *memory.Writer
	orch    *bot.Orchestrator
	source  chat.Source
	watcher *config.Watcher
	health  *HealthServer

	turns sync.WaitGroup
}

// New loads configuration and secrets and builds every component. The
// returned error wraps config.ErrMissing when the config file or a required
// secret is absent.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Platform == "" {
		opts.Platform = PlatformMatrix
	}
	if opts.Platform != PlatformMatrix && opts.Platform != PlatformConsole {
		return nil, fmt.Errorf("unknown platform %q", opts.Platform)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	var secrets config.Secrets
	if opts.Secrets != nil {
		secrets = *opts.Secrets
	} else if secrets, err = config.LoadSecrets(Needs(cfg, opts.Platform, true)); err != nil {
		return nil, err
	}

	logger := observability.Setup(cfg.Log.Level, cfg.Log.Format, redact.NewSet(secrets.Values()...))

	a := &App{cfg: cfg, path: opts.ConfigPath, logger: logger}
	if err := a.build(ctx, opts, secrets); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options, secrets config.Secrets) error {
	var err error
	cfg := a.cfg

	a.logger.Info("opening database", "path", cfg.Database.Path)
	if a.store, err = store.Open(ctx, cfg.Database.Path); err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if a.persona, err = OpenPersona(ctx, cfg, a.path, a.store, a.logger); err != nil {
		return err
	}
	if cfg.Memory.Persona != "sqlite" {
		a.watcher, err = config.NewWatcher(a.path, config.DefaultDebounce, a.reloadPersona, a.logger)
		if err != nil {
			a.logger.Warn("config watcher unavailable; external edits need a restart", "err", err)
		}
	}

	if a.index, err = NewIndex(ctx, cfg, secrets, a.store, a.logger); err != nil {
		return fmt.Errorf("memory index: %w", err)
	}
	a.writer = memory.NewWriter(a.index, memory.WriterConfig{
		Workers:    cfg.Memory.Workers,
		QueueSize:  cfg.Memory.QueueSize,
		Timeout:    writeTimeout,
		Attempts:   cfg.Memory.WriteAttempts,
		RetryDelay: time.Second,
	}, a.logger)

	provider, err := NewProvider(cfg, secrets)
	if err != nil {
		return err
	}

	var platform chat.Platform
	switch opts.Platform {
	case PlatformConsole:
		in, out := opts.In, opts.Out
		if in == nil {
			in = os.Stdin
		}
		if out == nil {
			out = os.Stdout
		}
		c := chat.NewConsole(in, out)
		platform, a.source = c, c
	default:
		a.logger.Info("connecting to Matrix", "homeserver", secrets.MatrixHomeserver, "user", secrets.MatrixUserID)
		m, err := matrix.New(matrix.Config{
			Homeserver:  secrets.MatrixHomeserver,
			UserID:      secrets.MatrixUserID,
			AccessToken: secrets.MatrixAccessToken,
			Rooms:       cfg.Chat.Channels,
			AutoJoin:    cfg.Chat.AutoJoin,
			DB:          a.store.DB(),
			Logger:      a.logger,
		})
		if err != nil {
			return err
		}
		platform, a.source = m, m
	}

	router := bot.NewRouter(cfg.Chat.CommandPrefix, cfg.Chat.Admins)
	bot.RegisterPersonaCommands(router, a.persona)

	a.orch = bot.New(bot.Deps{
		Platform: platform,
		Gate:     NewGate(cfg),
		Persona:  a.persona,
		Assembler: memory.NewAssembler(platform, a.index,
			memory.WithPerChannelRecall(cfg.Memory.PerChannel),
			memory.WithAssemblerLogger(a.logger)),
		Provider: provider,
		Writer:   a.writer,
		Router:   router,
		Logger:   a.logger,
	}, bot.Options{
		Model:           cfg.Model.Name,
		Temperature:     cfg.Model.Temperature,
		MaxTokens:       cfg.Model.MaxTokens,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		MemoryK:         cfg.Memory.K,
		Placeholder:     cfg.Chat.Placeholder,
		Fallback:        cfg.Chat.Fallback,
		PlaceholderMode: cfg.Chat.PlaceholderMode,
		RecordPolicy:    cfg.Memory.RecordPolicy,
		SingleFlight:    cfg.Chat.SingleFlight,
	})

	if cfg.HTTP.Addr != "" {
		a.health = NewHealthServer(cfg.HTTP.Addr, a)
	}

	a.logger.Info("miquella ready",
		"platform", opts.Platform,
		"activation", cfg.Chat.Activation,
		"model", cfg.Model.Name,
		"embedding", cfg.Embedding.Provider,
		"persona_store", cfg.Memory.Persona,
	)
	return nil
}

// Run delivers messages until ctx is cancelled or the platform stops, then
// waits for in-flight turns.
func (a *App) Run(ctx context.Context) error {
	if a.watcher != nil {
		go a.watcher.Run(ctx)
	}
	if a.health != nil {
		if err := a.health.Start(ctx); err != nil {
			return err
		}
	}

	err := a.source.Listen(ctx, a.handle)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	done := make(chan struct{})
	go func() {
		a.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		a.logger.Warn("shutdown grace expired with turns still running")
	}
	return err
}

// handle runs on the platform's event goroutine. The synchronous part keeps
// gate decisions in arrival order; the turn itself runs detached so a slow
// model never stalls the stream.
func (a *App) handle(ctx context.Context, msg chat.Message) {
	turn := a.orch.Observe(ctx, msg)
	if turn == nil {
		return
	}
	a.turns.Add(1)
	go func() {
		defer a.turns.Done()
		// Finish the turn even if shutdown starts meanwhile.
		out := turn.Run(context.WithoutCancel(ctx))
		a.logger.Debug("turn finished", "trace_id", turn.TraceID(), "state", out.State.String())
	}()
}

func (a *App) reloadPersona(ctx context.Context) {
	if err := a.persona.Reload(ctx); err != nil {
		a.logger.Warn("persona reload failed", "err", err)
	}
}

// Count and Dropped feed the health server.
func (a *App) Count(ctx context.Context) (int, error) { return a.index.Count(ctx) }

func (a *App) Dropped() int64 { return a.writer.Dropped() }

// Persona exposes the persona store.
func (a *App) Persona() *persona.Store { return a.persona }

// Close flushes pending memory writes and releases resources.
func (a *App) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.writer != nil {
		a.writer.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close database", "err", err)
		}
	}
}

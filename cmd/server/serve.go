package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kiliankoe/promptgate/internal/ai/openai"
	"github.com/kiliankoe/promptgate/internal/api"
	"github.com/kiliankoe/promptgate/internal/completion"
	"github.com/kiliankoe/promptgate/internal/config"
	"github.com/kiliankoe/promptgate/internal/uploads"
	"github.com/kiliankoe/promptgate/internal/usage"
	"github.com/kiliankoe/promptgate/internal/ws"
	staticserver "github.com/kiliankoe/promptgate/static"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func loadConfig(path, port string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if port != "" {
		cfg.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := cfg.LogFormat == "console" ||
		(cfg.LogFormat == "auto" && isatty.IsTerminal(os.Stdout.Fd()))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func newEngine(cfg config.Config, gate *usage.Gate, svc *completion.Service, store *uploads.Store) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.MaxMultipartMemory = cfg.MaxUploadBytes()
	r.Use(gin.Recovery())
	r.Use(api.RequestID())
	r.Use(api.Logger())
	r.Use(api.CORS(cfg.CORSOrigins))

	h := &api.Handler{Gate: gate, Service: svc, Uploads: store, MaxBytes: cfg.MaxUploadBytes()}
	h.Register(r)

	// Serve frontend (if embedded build is present) for all other routes
	r.NoRoute(func(c *gin.Context) {
		staticserver.Handler().ServeHTTP(c.Writer, c.Request)
	})
	return r
}

func serve(ctx context.Context, cfg config.Config) error {
	setupLogging(cfg)

	gate := usage.NewGate()
	resolver, err := usage.NewResolver(cfg.OpenAIKey, gate)
	if err != nil {
		return err
	}
	provider := openai.New(cfg.OpenAIBaseURL, cfg.Timeout())
	svc, err := completion.New(gate, resolver, provider, cfg.DefaultModel)
	if err != nil {
		return err
	}
	store, err := uploads.Open(cfg.UploadDir)
	if err != nil {
		return err
	}
	defer store.Close()

	r := newEngine(cfg, gate, svc, store)
	io := ws.New(gate).Mount(r)
	defer io.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("model", svc.Model()).Str("uploads", store.Dir()).
			Str("key", usage.MaskKey(cfg.OpenAIKey)).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fileconv/internal/api"
	"fileconv/internal/config"
	"fileconv/internal/convert"
	fileutil "fileconv/internal/file"
	"fileconv/internal/task"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		setupLogger(config.Default())
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	stager := fileutil.NewStager(cfg.DataDir)
	if err := stager.Prepare(); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("prepare data dirs")
	}

	tools := []string{cfg.FFmpegPath, cfg.SofficePath}
	if missing := convert.CheckTools(tools...); len(missing) > 0 {
		log.Warn().Strs("missing", missing).Msg("external converters not found, affected categories will fail")
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	if cfg.CleanupOnStartup {
		fileutil.SweepAll(cfg.FileTTL, stager.UploadDir, stager.OutputDir)
	}
	fileutil.StartSweeper(baseCtx, cfg.CleanupInterval, cfg.FileTTL, stager.UploadDir, stager.OutputDir)

	taskManager := buildTaskManager(cfg, stager)
	taskManager.SetBaseContext(baseCtx)

	router := setupRouter()
	wireAPI(router, taskManager, stager, api.Options{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Tools:          tools,
	})

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		log.Info().Int("port", cfg.Port).Str("data_dir", cfg.DataDir).
			Int("max_concurrent", cfg.MaxConcurrentConversions).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, taskManager, shutdownTimeout)
}

func configPath() string {
	if p := os.Getenv("FILECONV_CONFIG"); p != "" {
		return p
	}
	return "config.yml"
}

func setupLogger(cfg config.Config) {
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildTaskManager(cfg config.Config, stager *fileutil.Stager) *task.Manager {
	dispatcher := convert.NewStandardDispatcher(convert.Tools{
		FFmpegPath:      cfg.FFmpegPath,
		SofficePath:     cfg.SofficePath,
		DocumentTimeout: cfg.DocumentTimeout,
		VideoPolicy: convert.VideoPolicy{
			Enabled:      cfg.VideoPolicy.Enabled,
			Formats:      cfg.VideoPolicy.Formats,
			Codec:        cfg.VideoPolicy.Codec,
			AudioCodec:   cfg.VideoPolicy.AudioCodec,
			AudioBitrate: cfg.VideoPolicy.AudioBitrate,
		},
	})
	return task.NewManagerWithOptions(task.Options{
		MaxConcurrentConversions: cfg.MaxConcurrentConversions,
		MaxBatchFiles:            cfg.MaxBatchFiles,
		OutputDir:                stager.OutputDir,
		Dispatcher:               dispatcher,
	})
}

func wireAPI(router *gin.Engine, tm *task.Manager, stager *fileutil.Stager, opts api.Options) {
	apiHandler := api.NewAPI(tm, stager, opts)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, tm *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	done := tm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}

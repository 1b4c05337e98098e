package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nasupload/internal/api"
	"nasupload/internal/config"
	fileutil "nasupload/internal/file"
	"nasupload/internal/transport/httpput"
	"nasupload/internal/transport/objectstore"
	"nasupload/internal/upload"
	"nasupload/internal/watch"
)

func main() {

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := config.LoadEnv(&cfg, ".env"); err != nil {
		log.Fatal().Err(err).Msg("failed to apply environment")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	if err := fileutil.EnsureDir(cfg.DataDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("ensure data dir")
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("transport", cfg.Transport.Kind).Msg("failed to set up transport")
	}
	store, closeStore := buildStore(cfg)
	uploads := buildUploadManager(cfg, transport, store)

	router := setupRouter()
	apiHandler := wireAPI(router, uploads)

	autoClear := api.NewAutoClear(uploads, cfg.AutoClearAfter)
	autoClear.Start()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	uploads.SetBaseContext(baseCtx)

	watcher := startWatcher(baseCtx, cfg, uploads)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)
	srv.RegisterOnShutdown(apiHandler.CloseStreams)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("watcher close warning")
		}
	}
	autoClear.Stop()
	gracefulShutdown(srv, baseCancel, uploads, shutdownTimeout)
	closeStore()
}

func setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func buildTransport(cfg config.Config) (upload.Transport, error) { //nolint:ireturn
	switch cfg.Transport.Kind {
	case config.TransportMinIO:
		mc := cfg.Transport.MinIO
		t, err := objectstore.New(objectstore.Options{
			Endpoint:  mc.Endpoint,
			AccessKey: mc.AccessKey,
			SecretKey: mc.SecretKey,
			UseSSL:    mc.UseSSL,
			Bucket:    mc.Bucket,
			Region:    mc.Region,
		})
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := t.EnsureBucket(ctx); err != nil {
			return nil, err //nolint:wrapcheck
		}
		return t, nil
	default:
		return httpput.New(httpput.Options{
			Endpoint: cfg.Transport.HTTP.Endpoint,
			Timeout:  cfg.Transport.HTTP.Timeout,
		}), nil
	}
}

func buildStore(cfg config.Config) (upload.TaskStore, func()) { //nolint:ireturn
	switch cfg.Store.Kind {
	case config.StoreFile:
		return upload.NewFileStore(cfg.DataDir), func() {}
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Error().Err(err).Str("addr", cfg.Store.Redis.Addr).Msg("failed to connect to redis")
		}
		return upload.NewRedisStore(client), func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("redis close warning")
			}
		}
	default:
		return nil, func() {}
	}
}

func buildUploadManager(cfg config.Config, transport upload.Transport, store upload.TaskStore) *upload.Manager {
	m := upload.NewManagerWithOptions(upload.Options{
		MaxConcurrent:   cfg.MaxConcurrentUploads,
		Transport:       transport,
		Store:           store,
		EstimatorWindow: cfg.Estimator.Window,
		EstimatorSize:   cfg.Estimator.Samples,
	})

	if err := m.LoadFromStore(context.Background()); err != nil {
		log.Warn().Err(err).Msg("failed to restore uploads")
	}
	return m
}

func wireAPI(router *gin.Engine, uploads *upload.Manager) *api.API {
	apiHandler := api.NewAPI(uploads)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)
	return apiHandler
}

func startWatcher(ctx context.Context, cfg config.Config, uploads *upload.Manager) *watch.Watcher {
	if cfg.Watch.Dir == "" {
		return nil
	}
	w, err := watch.New(cfg.Watch.Dir, cfg.Watch.Destination, cfg.Watch.Settle, uploads)
	if err != nil {
		log.Error().Err(err).Str("dir", cfg.Watch.Dir).Msg("watch folder disabled")
		return nil
	}
	w.Start(ctx)
	return w
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

// gracefulShutdown stops the HTTP server, then cancels in-flight uploads and
// waits for them to settle. Each phase gets its own timeout.
func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, uploads *upload.Manager, timeout time.Duration) {
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), timeout)
	defer cancelHTTP()
	if err := srv.Shutdown(httpCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	uploadsCtx, cancelUploads := context.WithTimeout(context.Background(), timeout)
	defer cancelUploads()
	if !uploads.Shutdown(uploadsCtx) {
		log.Warn().Msg("uploads did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}

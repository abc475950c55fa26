package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cctv-archive/internal/archive"
	"cctv-archive/internal/archive/dbstore"
	"cctv-archive/internal/media"
	"cctv-archive/internal/media/ffmpeg"
	"cctv-archive/internal/media/mjpeg"
	"cctv-archive/internal/platform/config"
	"cctv-archive/internal/platform/logger"
	"cctv-archive/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = config.Load()

	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	log := logger.New(logLevel, logFormat)

	if err := run(log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(log *slog.Logger) error {
	port := config.GetEnv("PORT", "8080")
	shutdownTimeout := time.Duration(config.GetEnvInt("SHUTDOWN_TIMEOUT", 10)) * time.Second

	size, err := media.ParseSize(config.GetEnv("FRAME_SIZE", "640x480"))
	if err != nil {
		return err
	}
	corner, err := media.ParseCorner(config.GetEnv("TIMESTAMP_CORNER", "bottom-right"))
	if err != nil {
		return err
	}
	capCfg := archive.CaptureConfig{
		ChunkDuration: time.Duration(config.GetEnvFloat("CHUNK_DURATION", archive.DefaultChunkDuration.Seconds()) * float64(time.Second)),
		FPS:           config.GetEnvFloat("CHUNK_FPS", archive.DefaultFPS),
		FrameSize:     size,
		DrawTimestamp: config.GetEnvBool("DRAW_TIMESTAMP", true),
		Corner:        corner,
	}

	layout, err := archive.NewLayout(config.GetEnv("VIDEOS_DIR", "./videos"), config.GetEnv("TMP_DIR", "./tmp"))
	if err != nil {
		return err
	}
	if err := layout.EnsureDirs(); err != nil {
		return fmt.Errorf("create storage directories: %w", err)
	}

	store, closeStore, err := openStore(log)
	if err != nil {
		return err
	}
	defer closeStore()

	video := ffmpeg.New(config.GetEnv("FFMPEG_PATH", "ffmpeg"), config.GetEnv("FFPROBE_PATH", "ffprobe"))
	stream := mjpeg.New(nil)
	var chunkCodec media.Codec = video
	switch format := strings.ToLower(config.GetEnv("CHUNK_FORMAT", "mp4")); format {
	case "mp4":
	case "mjpeg":
		chunkCodec = stream
	default:
		return fmt.Errorf("unknown CHUNK_FORMAT %q", format)
	}

	met := metrics.New()
	opener := media.NewOpener(video, stream, size, nil)
	capture := archive.NewCapture(capCfg, store, opener, chunkCodec, layout, log, met)
	registry := archive.NewRegistry(capture, log)
	assembler := archive.NewAssembler(store, layout, capCfg.FPS, size, chunkCodec, []media.Codec{video, stream}, log, met)
	svc := archive.NewService(store, registry, assembler, layout, log)
	h := archive.NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveCaptures(svc.ActiveCaptures()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resumed, err := svc.ResumeActive(ctx)
	if err != nil {
		return fmt.Errorf("resume active sources: %w", err)
	}

	srv := &http.Server{Addr: ":" + port, Handler: r}

	log.Info("server starting",
		"port", port,
		"frame_size", size.String(),
		"chunk_duration", capCfg.ChunkDuration.String(),
		"chunk_fps", capCfg.FPS,
		"chunk_format", chunkCodec.Ext(),
		"resumed_sources", resumed,
		"log_level", config.GetEnv("LOG_LEVEL", "info"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		herr := srv.Shutdown(sctx)
		if err := svc.Shutdown(sctx); err != nil {
			log.Error("capture shutdown incomplete", "error", err)
		}
		return herr
	})
	return g.Wait()
}

// openStore selects the metadata store from DATABASE_DRIVER.
func openStore(log *slog.Logger) (archive.Store, func(), error) {
	driver := strings.ToLower(config.GetEnv("DATABASE_DRIVER", "memory"))
	switch driver {
	case "memory":
		log.Warn("using in-memory store; sources and chunks are lost on restart")
		return archive.NewInMemoryStore(), func() {}, nil
	case "postgres", "sqlite":
	default:
		return nil, nil, fmt.Errorf("unknown DATABASE_DRIVER %q", driver)
	}

	dsn, err := databaseURL(driver)
	if err != nil {
		return nil, nil, err
	}
	s, err := dbstore.Open(driver, dsn)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			log.Error("close store", "error", err)
		}
	}, nil
}

func databaseURL(driver string) (string, error) {
	if dsn := config.GetEnv("DATABASE_URL", ""); dsn != "" {
		return dsn, nil
	}
	if driver == "sqlite" {
		return "archive.db", nil
	}
	pwdFile := config.GetEnv("DATABASE_PASSWORD_FILE", "")
	if pwdFile == "" {
		return "", errors.New("postgres needs DATABASE_URL or DATABASE_PASSWORD_FILE")
	}
	pwd, err := os.ReadFile(pwdFile)
	if err != nil {
		return "", fmt.Errorf("read database password: %w", err)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword("postgres", strings.TrimSpace(string(pwd))),
		Host:   "db:5432",
		Path:   "/postgres",
	}
	return u.String(), nil
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"cctv-archive/internal/media"
	"cctv-archive/internal/platform/logger"
)

// Service applies the source lifecycle rules on top of the Store, the
// capture Registry and the Assembler. Control operations are serialized.
type Service struct {
	store     Store
	registry  *Registry
	assembler *Assembler
	layout    Layout
	log       *slog.Logger

	mu sync.Mutex
}

// NewService returns a Service.
func NewService(store Store, registry *Registry, assembler *Assembler, layout Layout, log *slog.Logger) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		assembler: assembler,
		layout:    layout,
		log:       logger.Default(log).With(slog.String("component", "service")),
	}
}

// List returns every source.
func (s *Service) List(ctx context.Context) ([]Source, error) {
	return s.store.ListSources(ctx)
}

// Get returns one source.
func (s *Service) Get(ctx context.Context, id SourceID) (Source, error) {
	return s.store.GetSource(ctx, id)
}

// CreateFromURL registers a remote origin. The source starts PAUSED.
func (s *Service) CreateFromURL(ctx context.Context, name, url string) (Source, error) {
	name, url = strings.TrimSpace(name), strings.TrimSpace(url)
	if name == "" || url == "" {
		return Source{}, fmt.Errorf("%w: name and url are required", ErrInvalidArgument)
	}
	if media.KindOf(url) == media.KindUnknown {
		return Source{}, fmt.Errorf("%w: %w: %s", ErrInvalidArgument, media.ErrUnsupported, url)
	}
	src, err := s.store.CreateSource(ctx, name, url)
	if err != nil {
		return Source{}, err
	}
	s.log.Info("source created", slog.Int64("source_id", int64(src.ID)), slog.String("url", url))
	return src, nil
}

// CreateFromUpload stores body under the sources root and registers it as a
// PAUSED source with a file:// URL. Only video files and still images are
// accepted.
func (s *Service) CreateFromUpload(ctx context.Context, name, filename string, body io.Reader) (Source, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Source{}, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	switch media.KindOf(filename) {
	case media.KindVideo, media.KindImage:
	default:
		return Source{}, fmt.Errorf("%w: %w: %s", ErrInvalidArgument, media.ErrUnsupported, filename)
	}

	path, err := s.saveUpload(filename, body)
	if err != nil {
		return Source{}, err
	}
	src, err := s.store.CreateSource(ctx, name, "file://"+path)
	if err != nil {
		os.Remove(path)
		return Source{}, err
	}
	s.log.Info("source uploaded", slog.Int64("source_id", int64(src.ID)), slog.String("path", path))
	return src, nil
}

func (s *Service) saveUpload(filename string, body io.Reader) (string, error) {
	s.mu.Lock()
	path, err := s.layout.UploadPath(filename)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	_, err = io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Start marks the source ACTIVE and launches its capture loop. Starting an
// ACTIVE or FINISHED source is a conflict; PAUSED and ERROR sources start.
func (s *Service) Start(ctx context.Context, id SourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	switch src.Status {
	case StatusActive:
		return fmt.Errorf("%w: source %d already active", ErrConflict, id)
	case StatusFinished:
		return fmt.Errorf("%w: source %d already finished", ErrConflict, id)
	}

	prev, prevMsg := src.Status, src.StatusMsg
	if err := s.store.UpdateSourceStatus(ctx, id, StatusActive, ""); err != nil {
		return err
	}
	src.Status, src.StatusMsg = StatusActive, ""
	if err := s.registry.Start(src); err != nil {
		if rerr := s.store.UpdateSourceStatus(context.WithoutCancel(ctx), id, prev, prevMsg); rerr != nil {
			s.log.Error("restore source status failed", slog.Int64("source_id", int64(id)), slog.String("error", rerr.Error()))
		}
		return err
	}
	s.log.Info("source started", slog.Int64("source_id", int64(id)))
	return nil
}

// Pause stops the capture loop of an ACTIVE source and marks it PAUSED. If
// the loop finished or failed on its own meanwhile, that status stands and
// Pause reports a conflict.
func (s *Service) Pause(ctx context.Context, id SourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if src.Status != StatusActive {
		return fmt.Errorf("%w: source %d is %s, not active", ErrConflict, id, src.Status)
	}
	s.registry.Stop(id)

	src, err = s.store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if src.Status.Terminal() {
		return fmt.Errorf("%w: source %d already %s", ErrConflict, id, strings.ToLower(src.Status.String()))
	}
	if err := s.store.UpdateSourceStatus(ctx, id, StatusPaused, ""); err != nil {
		return err
	}
	s.log.Info("source paused", slog.Int64("source_id", int64(id)))
	return nil
}

// Finish stops any capture loop and marks the source FINISHED.
func (s *Service) Finish(ctx context.Context, id SourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	if src.Status == StatusFinished {
		return fmt.Errorf("%w: source %d already finished", ErrConflict, id)
	}
	if src.Status == StatusActive {
		s.registry.Stop(id)
	}
	if err := s.store.UpdateSourceStatus(ctx, id, StatusFinished, ""); err != nil {
		return err
	}
	s.log.Info("source finished", slog.Int64("source_id", int64(id)))
	return nil
}

// Remove stops the source's loop, then deletes its records, its chunk
// directory and, for uploads, the uploaded file.
func (s *Service) Remove(ctx context.Context, id SourceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return err
	}
	s.registry.Stop(id)

	if err := s.store.DeleteSource(ctx, id); err != nil {
		return err
	}
	if p, ok := media.LocalPath(src.URL); ok && s.layout.OwnsUpload(p) {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("remove uploaded file failed", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	if err := s.layout.RemoveChunks(id); err != nil {
		return err
	}
	s.log.Info("source removed", slog.Int64("source_id", int64(id)))
	return nil
}

// Chunk returns a chunk record by id.
func (s *Service) Chunk(ctx context.Context, id ChunkID) (Chunk, error) {
	return s.store.GetChunk(ctx, id)
}

// LastChunk returns the most recent chunk of a source.
func (s *Service) LastChunk(ctx context.Context, source SourceID) (Chunk, error) {
	if _, err := s.store.GetSource(ctx, source); err != nil {
		return Chunk{}, err
	}
	return s.store.LastChunk(ctx, source)
}

// Frame returns the JPEG frame of source captured at t.
func (s *Service) Frame(ctx context.Context, source SourceID, t time.Time) ([]byte, error) {
	if _, err := s.store.GetSource(ctx, source); err != nil {
		return nil, err
	}
	return s.assembler.FrameAt(ctx, source, t)
}

// Segment assembles the frames of source between start and end.
func (s *Service) Segment(ctx context.Context, source SourceID, start, end time.Time) (SegmentFile, error) {
	if _, err := s.store.GetSource(ctx, source); err != nil {
		return SegmentFile{}, err
	}
	return s.assembler.Segment(ctx, source, start, end)
}

// ResumeActive restarts the capture loop of every source left ACTIVE by a
// previous run. It returns how many loops were started.
func (s *Service) ResumeActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources, err := s.store.ListSourcesByStatus(ctx, StatusActive)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, src := range sources {
		if err := s.registry.Start(src); err != nil {
			s.log.Warn("resume capture failed", slog.Int64("source_id", int64(src.ID)), slog.String("error", err.Error()))
			continue
		}
		n++
	}
	s.log.Info("active sources resumed", slog.Int("count", n))
	return n, nil
}

// ActiveCaptures is the number of running capture loops.
func (s *Service) ActiveCaptures() int {
	return s.registry.Len()
}

// Shutdown stops every capture loop, finalizing their open chunks. Source
// statuses are left ACTIVE so the loops resume on the next start.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.registry.StopAll(ctx)
}

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"cctv-archive/internal/media"
	"cctv-archive/internal/platform/logger"
	"cctv-archive/internal/platform/metrics"
)

// Defaults match the stock deployment: one-minute chunks at 1 fps, 640x480.
const (
	DefaultChunkDuration = 60 * time.Second
	DefaultFPS           = 1.0
)

// CaptureConfig is resolved once at process start.
type CaptureConfig struct {
	ChunkDuration time.Duration
	FPS           float64
	FrameSize     media.Size
	DrawTimestamp bool
	Corner        media.Corner
}

// FramesPerChunk is floor(duration x fps), at least 1.
func (c CaptureConfig) FramesPerChunk() int {
	n := int(math.Floor(c.ChunkDuration.Seconds() * c.FPS))
	if n < 1 {
		return 1
	}
	return n
}

// Interval is the pacing budget per frame.
func (c CaptureConfig) Interval() time.Duration {
	return time.Duration(float64(time.Second) / c.FPS)
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.FPS <= 0 {
		c.FPS = DefaultFPS
	}
	return c
}

// Capture is the per-source ingestion loop: it reads frames from a source,
// paces them to the target rate and rotates chunk files.
type Capture struct {
	cfg     CaptureConfig
	store   Store
	opener  media.Opener
	codec   media.Codec
	layout  Layout
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewCapture returns a Capture. Metrics may be nil; a nil logger discards.
func NewCapture(cfg CaptureConfig, store Store, opener media.Opener, codec media.Codec, layout Layout, log *slog.Logger, m *metrics.Metrics) *Capture {
	return &Capture{
		cfg:     cfg.withDefaults(),
		store:   store,
		opener:  opener,
		codec:   codec,
		layout:  layout,
		log:     logger.Default(log).With(slog.String("component", "capture")),
		metrics: m,
	}
}

// Run captures src until it is exhausted, fails or ctx is cancelled.
// Exhaustion sets the source FINISHED and a failure sets it ERROR with the
// error text. Cancellation leaves the status to the canceller. The returned
// error is the failure, if any.
func (c *Capture) Run(ctx context.Context, src Source) error {
	log := c.log.With(slog.Int64("source_id", int64(src.ID)))
	log.Info("capture started", slog.String("url", src.URL))

	err := c.safeCapture(ctx, src, log)
	if ctx.Err() != nil {
		log.Info("capture stopped")
		return nil
	}

	bg := context.WithoutCancel(ctx)
	if err == nil {
		if uerr := c.store.UpdateSourceStatus(bg, src.ID, StatusFinished, ""); uerr != nil {
			log.Error("set source finished failed", slog.String("error", uerr.Error()))
		}
		log.Info("capture finished")
		return nil
	}

	if uerr := c.store.UpdateSourceStatus(bg, src.ID, StatusError, err.Error()); uerr != nil {
		log.Error("set source error failed", slog.String("error", uerr.Error()))
	}
	if c.metrics != nil {
		c.metrics.IncCaptureFailures()
	}
	log.Error("capture failed", slog.String("error", err.Error()))
	return err
}

func (c *Capture) safeCapture(ctx context.Context, src Source, log *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("capture panicked: %v", p)
		}
	}()
	return c.capture(ctx, src, log)
}

func (c *Capture) capture(ctx context.Context, src Source, log *slog.Logger) error {
	ext := c.codec.Ext()
	idx, err := c.layout.NextChunkIndex(src.ID, ext)
	if err != nil {
		return err
	}

	in, err := c.opener.Open(ctx, src.URL)
	if err != nil {
		return err
	}
	defer in.Close()

	// Downsample by dropping frames between kept ones.
	skipper, _ := in.(media.Skipper)
	skip := 0
	if native := in.NativeFPS(); skipper != nil && native > c.cfg.FPS {
		skip = int(native/c.cfg.FPS) - 1
	}
	log.Debug("source opened",
		slog.String("kind", in.Kind().String()),
		slog.Float64("native_fps", in.NativeFPS()),
		slog.Int("skip", skip),
		slog.Int("first_chunk", idx))

	for in.HasNext() {
		if err := c.chunk(ctx, src.ID, c.layout.ChunkPath(src.ID, idx, ext), in, skipper, skip, log); err != nil {
			return err
		}
		idx++
	}
	return nil
}

// chunk fills one chunk file. It returns nil when the budget is reached or
// the source runs out.
func (c *Capture) chunk(ctx context.Context, id SourceID, path string, in media.Source, skipper media.Skipper, skip int, log *slog.Logger) (err error) {
	sink, err := OpenChunkSink(c.store, c.codec, id, path, c.cfg.FPS, c.cfg.FrameSize)
	if err != nil {
		return err
	}
	defer func() {
		chunk, kept, cerr := sink.Close(context.WithoutCancel(ctx))
		switch {
		case cerr != nil:
			log.Error("chunk finalize failed", slog.String("path", path), slog.String("error", cerr.Error()))
			if err == nil {
				err = cerr
			}
		case kept:
			log.Info("chunk finalized",
				slog.Int64("chunk_id", int64(chunk.ID)),
				slog.String("path", path),
				slog.Int("frames", sink.Frames()))
			if c.metrics != nil {
				c.metrics.IncChunksFinalized()
			}
		default:
			log.Debug("empty chunk discarded", slog.String("path", path))
			if c.metrics != nil {
				c.metrics.IncChunksDiscarded()
			}
		}
		if c.metrics != nil {
			c.metrics.AddFramesCaptured(sink.Frames())
		}
	}()

	budget := c.cfg.FramesPerChunk()
	interval := c.cfg.Interval()
	for i := 0; i < budget && in.HasNext(); i++ {
		readAt := time.Now()
		frame, err := in.Read(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if skip > 0 {
			if err := skipper.Skip(ctx, skip); err != nil && !errors.Is(err, io.EOF) {
				return err
			}
		}
		if c.cfg.DrawTimestamp {
			media.Stamp(frame, readAt, c.cfg.Corner)
		}
		if err := sink.Write(frame); err != nil {
			return err
		}
		if err := pace(ctx, readAt, interval); err != nil {
			return err
		}
	}
	return nil
}

// pace sleeps until interval has passed since t, waking early on cancellation.
func pace(ctx context.Context, t time.Time, interval time.Duration) error {
	wait := interval - time.Since(t)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cctv-archive/internal/media"
	"cctv-archive/internal/platform/logger"
	"cctv-archive/internal/platform/metrics"
)

// FrameQuality is the JPEG quality of frames returned by FrameAt.
const FrameQuality = 90

// SegmentFile is an assembled segment on disk. The caller removes Path once
// it has been delivered.
type SegmentFile struct {
	Path   string
	Name   string
	Frames int
}

// Assembler reconstructs frames and time ranges from stored chunks. It only
// reads the store and chunk files.
type Assembler struct {
	store   Store
	layout  Layout
	out     media.Codec
	codecs  map[string]media.Codec
	fps     float64
	size    media.Size
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewAssembler returns an Assembler. Segments are encoded with out; chunk
// files are decoded with the codec matching their extension, falling back
// to out. fps and size must match what the capture loop writes.
func NewAssembler(store Store, layout Layout, fps float64, size media.Size, out media.Codec, readers []media.Codec, log *slog.Logger, m *metrics.Metrics) *Assembler {
	if fps <= 0 {
		fps = DefaultFPS
	}
	codecs := map[string]media.Codec{out.Ext(): out}
	for _, c := range readers {
		codecs[c.Ext()] = c
	}
	return &Assembler{
		store:   store,
		layout:  layout,
		out:     out,
		codecs:  codecs,
		fps:     fps,
		size:    size,
		log:     logger.Default(log).With(slog.String("component", "assembler")),
		metrics: m,
	}
}

// frameIndex is floor(elapsed x fps), never negative.
func frameIndex(elapsed time.Duration, fps float64) int {
	n := int(math.Floor(elapsed.Seconds() * fps))
	if n < 0 {
		return 0
	}
	return n
}

func (a *Assembler) open(ctx context.Context, c Chunk) (media.Reader, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(c.FilePath)), ".")
	codec, ok := a.codecs[ext]
	if !ok {
		codec = a.out
	}
	return codec.Open(ctx, c.FilePath, a.size)
}

// FrameAt returns the frame of source captured at t, encoded as JPEG.
func (a *Assembler) FrameAt(ctx context.Context, source SourceID, t time.Time) ([]byte, error) {
	chunk, err := a.store.ChunkAt(ctx, source, t)
	if err != nil {
		return nil, err
	}
	r, err := a.open(ctx, chunk)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	idx := frameIndex(t.Sub(chunk.StartTime), a.fps)
	if n := r.Info().Frames; n > 0 && idx >= n {
		idx = n - 1
	}
	if err := r.Skip(idx); err != nil {
		return nil, noFrame(err, source, t)
	}
	img, err := r.Read()
	if err != nil {
		return nil, noFrame(err, source, t)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: FrameQuality}); err != nil {
		return nil, err
	}
	if a.metrics != nil {
		a.metrics.IncFramesServed()
	}
	return buf.Bytes(), nil
}

func noFrame(err error, source SourceID, t time.Time) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: no frame for source %d at %s", ErrNotFound, source, t.Format(time.RFC3339Nano))
	}
	return err
}

// Segment concatenates the frames of every chunk intersecting [start, end]
// into one new file. The first chunk is entered at start and the last one
// left at end; gaps between chunks are passed through as is.
func (a *Assembler) Segment(ctx context.Context, source SourceID, start, end time.Time) (SegmentFile, error) {
	if end.Before(start) {
		return SegmentFile{}, fmt.Errorf("%w: end time before start time", ErrInvalidArgument)
	}
	chunks, err := a.store.ChunksInRange(ctx, source, start, end)
	if err != nil {
		return SegmentFile{}, err
	}
	if len(chunks) == 0 {
		return SegmentFile{}, fmt.Errorf("%w: no chunks for source %d in range", ErrNotFound, source)
	}

	path := a.layout.TempPath(a.out.Ext())
	w, err := a.out.Create(path, a.fps, a.size)
	if err != nil {
		return SegmentFile{}, err
	}

	frames, err := a.copyChunks(ctx, w, chunks, start, end)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err == nil && frames == 0 {
		err = fmt.Errorf("%w: no frames for source %d in range", ErrNotFound, source)
	}
	if err != nil {
		os.Remove(path)
		return SegmentFile{}, err
	}

	if a.metrics != nil {
		a.metrics.IncSegmentsServed()
	}
	a.log.Debug("segment assembled",
		slog.Int64("source_id", int64(source)),
		slog.Int("chunks", len(chunks)),
		slog.Int("frames", frames))
	return SegmentFile{
		Path:   path,
		Name:   fmt.Sprintf("%d_%d_%d.%s", source, start.Unix(), end.Unix(), a.out.Ext()),
		Frames: frames,
	}, nil
}

func (a *Assembler) copyChunks(ctx context.Context, w media.Writer, chunks []Chunk, start, end time.Time) (int, error) {
	total := 0
	for i, c := range chunks {
		from, to := 0, -1
		if i == 0 && start.After(c.StartTime) {
			from = frameIndex(start.Sub(c.StartTime), a.fps)
		}
		if i == len(chunks)-1 && end.Before(c.EndTime) {
			to = frameIndex(end.Sub(c.StartTime), a.fps)
		}
		n, err := a.copyChunk(ctx, w, c, from, to)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// copyChunk writes frames [from, to) of c to w; to < 0 reads to the end.
func (a *Assembler) copyChunk(ctx context.Context, w media.Writer, c Chunk, from, to int) (int, error) {
	if to >= 0 && to <= from {
		return 0, nil
	}
	r, err := a.open(ctx, c)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	if err := r.Skip(from); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, err
	}
	n := 0
	for pos := from; to < 0 || pos < to; pos++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		img, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}
		if err := w.Write(img); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

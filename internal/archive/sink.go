package archive

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cctv-archive/internal/media"
)

// ChunkSink writes frames to one chunk file. Close must run on every exit
// path: it either persists a Chunk record for a non-empty file or removes
// the file, so a file exists iff its record does iff it holds a frame.
type ChunkSink struct {
	store  Store
	source SourceID
	path   string
	size   media.Size
	w      media.Writer
	start  time.Time
	frames int
	closed bool
}

// OpenChunkSink creates the encoder for path and records the acquisition
// time as the chunk's start time.
func OpenChunkSink(store Store, codec media.Codec, source SourceID, path string, fps float64, size media.Size) (*ChunkSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	w, err := codec.Create(path, fps, size)
	if err != nil {
		return nil, fmt.Errorf("open chunk %s: %w", path, err)
	}
	return &ChunkSink{
		store:  store,
		source: source,
		path:   path,
		size:   size,
		w:      w,
		start:  time.Now(),
	}, nil
}

// Frames is the number of frames written so far.
func (s *ChunkSink) Frames() int { return s.frames }

// Write encodes one frame. Its dimensions must match the sink's size.
func (s *ChunkSink) Write(img image.Image) error {
	if s.closed {
		return errors.New("chunk sink is closed")
	}
	b := img.Bounds()
	if b.Dx() != s.size.Width || b.Dy() != s.size.Height {
		return fmt.Errorf("frame is %dx%d, chunk expects %s", b.Dx(), b.Dy(), s.size)
	}
	if err := s.w.Write(img); err != nil {
		return fmt.Errorf("write chunk %s: %w", s.path, err)
	}
	s.frames++
	return nil
}

// Close finalizes the encoder. An empty chunk is deleted and reported with
// kept=false. A failed encoder or record insert also deletes the file.
// Close is idempotent; later calls report kept=false.
func (s *ChunkSink) Close(ctx context.Context) (chunk Chunk, kept bool, err error) {
	if s.closed {
		return Chunk{}, false, nil
	}
	s.closed = true
	end := time.Now()
	werr := s.w.Close()

	if s.frames == 0 {
		return Chunk{}, false, s.remove()
	}
	if werr != nil {
		s.remove()
		return Chunk{}, false, fmt.Errorf("finalize chunk %s: %w", s.path, werr)
	}

	// Keep start < end even on coarse clocks.
	if !end.After(s.start) {
		end = s.start.Add(time.Microsecond)
	}
	chunk, err = s.store.CreateChunk(ctx, Chunk{
		SourceID:  s.source,
		FilePath:  s.path,
		StartTime: s.start,
		EndTime:   end,
	})
	if err != nil {
		s.remove()
		return Chunk{}, false, fmt.Errorf("record chunk %s: %w", s.path, err)
	}
	return chunk, true, nil
}

func (s *ChunkSink) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

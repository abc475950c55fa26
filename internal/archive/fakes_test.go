package archive

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cctv-archive/internal/media"
	"cctv-archive/internal/media/mjpeg"
)

var testSize = media.Size{Width: 16, Height: 16}

// gray returns a solid gray frame. Gray survives JPEG almost exactly, so
// tests use the level to identify frames.
func gray(size media.Size, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func grayLevel(img *image.RGBA) uint8 {
	b := img.Bounds()
	return img.RGBAAt(b.Dx()/2, b.Dy()/2).R
}

func nearLevel(got, want uint8) bool {
	d := int(got) - int(want)
	return d >= -2 && d <= 2
}

// fakeSource yields gray frames whose level is the read position.
type fakeSource struct {
	kind   media.Kind
	fps    float64
	n      int // frames available; < 0 means unbounded
	failAt int // Read fails with a decode error at this position; < 0 never
	onRead func(pos int)

	pos    int
	closed bool
}

func newFakeSource(n int) *fakeSource {
	return &fakeSource{kind: media.KindVideo, n: n, failAt: -1}
}

func (s *fakeSource) Kind() media.Kind   { return s.kind }
func (s *fakeSource) NativeFPS() float64 { return s.fps }
func (s *fakeSource) Close() error       { s.closed = true; return nil }
func (s *fakeSource) HasNext() bool      { return s.n < 0 || s.pos < s.n }

func (s *fakeSource) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.onRead != nil {
		s.onRead(s.pos)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if s.pos == s.failAt {
		return nil, fmt.Errorf("%w: corrupt frame %d", media.ErrDecode, s.pos)
	}
	if s.n >= 0 && s.pos >= s.n {
		return nil, io.EOF
	}
	img := gray(testSize, uint8(s.pos))
	s.pos++
	return img, nil
}

// skippingSource adds media.Skipper to fakeSource.
type skippingSource struct {
	*fakeSource
	skipped int
}

func (s *skippingSource) Skip(ctx context.Context, k int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.skipped += k
	s.pos += k
	if s.n >= 0 && s.pos > s.n {
		s.pos = s.n
		return io.EOF
	}
	return nil
}

type fakeOpener struct {
	open   func() media.Source
	err    error
	opened []string
}

func (o *fakeOpener) Open(_ context.Context, origin string) (media.Source, error) {
	o.opened = append(o.opened, origin)
	if o.err != nil {
		return nil, o.err
	}
	return o.open(), nil
}

func sourceOf(src media.Source) *fakeOpener {
	return &fakeOpener{open: func() media.Source { return src }}
}

func testLayout(t *testing.T) Layout {
	t.Helper()
	dir := t.TempDir()
	l, err := NewLayout(dir+"/videos", dir+"/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	return l
}

// fastConfig captures at 100 fps with five-frame chunks.
func fastConfig() CaptureConfig {
	return CaptureConfig{ChunkDuration: 50 * time.Millisecond, FPS: 100, FrameSize: testSize}
}

func mustSource(t *testing.T, store Store, url string) Source {
	t.Helper()
	src, err := store.CreateSource(context.Background(), "cam", url)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

// readChunkFile decodes every frame of an MJPEG chunk file.
func readChunkFile(t *testing.T, path string) []*image.RGBA {
	t.Helper()
	r, err := mjpeg.New(nil).Open(context.Background(), path, testSize)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer r.Close()
	var frames []*image.RGBA
	for {
		img, err := r.Read()
		if err == io.EOF {
			return frames
		}
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		frames = append(frames, img)
	}
}

// writeChunkFile writes gray frames with the given levels as chunk idx of
// source and records it in store with the given time range.
func writeChunkFile(t *testing.T, store Store, l Layout, source SourceID, idx int, start, end time.Time, levels []uint8) Chunk {
	t.Helper()
	path := l.ChunkPath(source, idx, "mjpeg")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	w, err := mjpeg.New(nil).Create(path, 1, testSize)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range levels {
		if err := w.Write(gray(testSize, v)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	c, err := store.CreateChunk(context.Background(), Chunk{SourceID: source, FilePath: path, StartTime: start, EndTime: end})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ramp returns levels from, from+step, ... for n frames.
func ramp(n int, from, step uint8) []uint8 {
	out := make([]uint8, n)
	for i := range out {
		out[i] = from + uint8(i)*step
	}
	return out
}

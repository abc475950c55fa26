package mjpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"cctv-archive/internal/media"
)

var palette = []color.RGBA{
	{R: 250, A: 255},
	{G: 250, A: 255},
	{B: 250, A: 255},
	{R: 250, G: 250, A: 255},
	{G: 250, B: 250, A: 255},
}

func solid(size media.Size, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func near(a, b color.RGBA) bool {
	d := func(x, y uint8) int {
		if x > y {
			return int(x - y)
		}
		return int(y - x)
	}
	return d(a.R, b.R) < 24 && d(a.G, b.G) < 24 && d(a.B, b.B) < 24
}

func writeChunk(t *testing.T, path string, size media.Size, colors []color.RGBA) {
	t.Helper()
	w, err := New(nil).Create(path, 1, size)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, c := range colors {
		if err := w.Write(solid(size, c)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCodec_roundtrip_file(t *testing.T) {
	size := media.Size{Width: 32, Height: 24}
	path := filepath.Join(t.TempDir(), "0.mjpeg")
	writeChunk(t, path, size, palette)

	r, err := New(nil).Open(context.Background(), path, size)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.Info().Frames; got != len(palette) {
		t.Fatalf("Info().Frames = %d, want %d", got, len(palette))
	}
	for i, want := range palette {
		img, err := r.Read()
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if got := img.RGBAAt(16, 12); !near(got, want) {
			t.Errorf("frame %d: got %v, want ~%v", i, got, want)
		}
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestCodec_skip(t *testing.T) {
	size := media.Size{Width: 16, Height: 16}
	path := filepath.Join(t.TempDir(), "1.mjpeg")
	writeChunk(t, path, size, palette)

	r, err := New(nil).Open(context.Background(), "file://"+path, size)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if err := r.Skip(3); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	img, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(8, 8); !near(got, palette[3]) {
		t.Errorf("after Skip(3) got %v, want ~%v", got, palette[3])
	}
	if err := r.Skip(5); !errors.Is(err, io.EOF) {
		t.Errorf("skipping past the end: expected io.EOF, got %v", err)
	}
}

func TestCodec_open_resizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2.mjpeg")
	writeChunk(t, path, media.Size{Width: 64, Height: 48}, palette[:1])

	r, err := New(nil).Open(context.Background(), path, media.Size{Width: 32, Height: 24})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	img, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("expected 32x24, got %v", b)
	}
}

func TestCodec_write_rejects_wrong_size(t *testing.T) {
	path := filepath.Join(t.TempDir(), "3.mjpeg")
	w, err := New(nil).Create(path, 1, media.Size{Width: 10, Height: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Write(solid(media.Size{Width: 11, Height: 10}, palette[0])); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestCodec_empty_and_truncated_files(t *testing.T) {
	dir := t.TempDir()
	size := media.Size{Width: 16, Height: 16}

	empty := filepath.Join(dir, "empty.mjpeg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := New(nil).Open(context.Background(), empty, size)
	if err != nil {
		t.Fatal(err)
	}
	if r.Info().Frames != 0 {
		t.Errorf("empty file: frames=%d", r.Info().Frames)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("empty file: expected io.EOF, got %v", err)
	}
	r.Close()

	full := filepath.Join(dir, "full.mjpeg")
	writeChunk(t, full, size, palette[:2])
	data, err := os.ReadFile(full)
	if err != nil {
		t.Fatal(err)
	}
	cut := filepath.Join(dir, "cut.mjpeg")
	if err := os.WriteFile(cut, data[:len(data)-20], 0o644); err != nil {
		t.Fatal(err)
	}
	r, err = New(nil).Open(context.Background(), cut, size)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Info().Frames != 1 {
		t.Errorf("truncated tail should not be counted: frames=%d", r.Info().Frames)
	}
}

func TestCodec_missing_file(t *testing.T) {
	_, err := New(nil).Open(context.Background(), filepath.Join(t.TempDir(), "nope.mjpeg"), media.Size{})
	if !errors.Is(err, media.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestReadFrame_skips_garbage_between_frames(t *testing.T) {
	size := media.Size{Width: 8, Height: 8}
	var one bytes.Buffer
	if err := jpeg.Encode(&one, solid(size, palette[0]), nil); err != nil {
		t.Fatal(err)
	}

	var stream bytes.Buffer
	stream.WriteString("--junk--")
	stream.Write(one.Bytes())
	stream.Write([]byte{0x00, 0xFF, 0x00})
	stream.Write(one.Bytes())

	br := bufio.NewReader(&stream)
	var buf bytes.Buffer
	for i := 0; i < 2; i++ {
		if err := readFrame(br, &buf); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(buf.Bytes(), one.Bytes()) {
			t.Fatalf("frame %d: extracted %d bytes, want %d", i, buf.Len(), one.Len())
		}
	}
	if err := readFrame(br, &buf); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestCodec_multipart_stream(t *testing.T) {
	size := media.Size{Width: 16, Height: 16}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mw.Boundary())
		for _, c := range palette[:3] {
			h := textproto.MIMEHeader{}
			h.Set("Content-Type", "image/jpeg")
			part, err := mw.CreatePart(h)
			if err != nil {
				return
			}
			if err := jpeg.Encode(part, solid(size, c), nil); err != nil {
				return
			}
		}
		mw.Close()
	}))
	defer srv.Close()

	r, err := New(srv.Client()).Open(context.Background(), srv.URL+"/video.mjpg", size)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Info().Frames != 0 {
		t.Errorf("remote stream should report unknown frame count")
	}
	if err := r.Skip(1); err != nil {
		t.Fatal(err)
	}
	img, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(8, 8); !near(got, palette[1]) {
		t.Errorf("got %v, want ~%v", got, palette[1])
	}
	if _, err := r.Read(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF at end of multipart body, got %v", err)
	}
}

func TestCodec_remote_unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(srv.Client()).Open(context.Background(), srv.URL+"/video.mjpg", media.Size{})
	if !errors.Is(err, media.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

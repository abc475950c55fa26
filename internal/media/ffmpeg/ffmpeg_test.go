package ffmpeg

import (
	"context"
	"errors"
	"image"
	"io"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"cctv-archive/internal/media"
)

func TestParseRate(t *testing.T) {
	cases := map[string]float64{
		"25":         25,
		"25/1":       25,
		"30000/1001": 30000.0 / 1001.0,
		"0/0":        0,
		"N/A":        0,
		"":           0,
	}
	for in, want := range cases {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[{"width":1280,"height":720,"nb_frames":"1500","avg_frame_rate":"25/1","r_frame_rate":"50/1"}]}`)
	got, err := parseProbe(out)
	if err != nil {
		t.Fatal(err)
	}
	want := probeResult{Frames: 1500, FPS: 25, Width: 1280, Height: 720}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestParseProbe_live_stream(t *testing.T) {
	out := []byte(`{"streams":[{"width":640,"height":480,"nb_frames":"N/A","avg_frame_rate":"0/0","r_frame_rate":"15/1"}]}`)
	got, err := parseProbe(out)
	if err != nil {
		t.Fatal(err)
	}
	if got.Frames != 0 {
		t.Errorf("unknown frame count should be 0, got %d", got.Frames)
	}
	if got.FPS != 15 {
		t.Errorf("should fall back to r_frame_rate, got %v", got.FPS)
	}
}

func TestParseProbe_errors(t *testing.T) {
	if _, err := parseProbe([]byte(`{"streams":[]}`)); !errors.Is(err, media.ErrDecode) {
		t.Errorf("no streams: expected ErrDecode, got %v", err)
	}
	if _, err := parseProbe([]byte(`not json`)); !errors.Is(err, media.ErrDecode) {
		t.Errorf("bad json: expected ErrDecode, got %v", err)
	}
}

func TestDecodeArgs(t *testing.T) {
	args := decodeArgs("rtsp://cam/1", media.Size{Width: 640, Height: 480})
	joined := strings.Join(args, " ")
	for _, want := range []string{"-i rtsp://cam/1", "scale=640:480", "-f rawvideo", "-pix_fmt rgba"} {
		if !strings.Contains(joined, want) {
			t.Errorf("decode args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "-" {
		t.Errorf("decoder should write to stdout, args end with %q", args[len(args)-1])
	}
}

func TestEncodeArgs(t *testing.T) {
	args := encodeArgs("/v/chunks/1/0.mp4", 2.5, media.Size{Width: 320, Height: 240})
	joined := strings.Join(args, " ")
	for _, want := range []string{"-s 320x240", "-r 2.5", "-i -", "-c:v mpeg4", "-y"} {
		if !strings.Contains(joined, want) {
			t.Errorf("encode args %q missing %q", joined, want)
		}
	}
	if args[len(args)-1] != "/v/chunks/1/0.mp4" {
		t.Errorf("output path should be last, got %q", args[len(args)-1])
	}
	if !slices.Contains(args, "rawvideo") {
		t.Error("encoder input should be rawvideo")
	}
}

func TestTail(t *testing.T) {
	tl := &tail{max: 8}
	tl.Write([]byte("hello "))
	tl.Write([]byte("world\n"))
	if got := tl.String(); got != "o world" {
		t.Errorf("got %q", got)
	}
}

func TestNew_defaults(t *testing.T) {
	c := New("", "")
	if c.FFmpeg != "ffmpeg" || c.FFprobe != "ffprobe" || c.Ext() != "mp4" {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

// TestCodec_roundtrip runs only where ffmpeg is installed.
func TestCodec_roundtrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	size := media.Size{Width: 32, Height: 24}
	path := filepath.Join(t.TempDir(), "0.mp4")
	c := New("", "")

	w, err := c.Create(path, 1, size)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := w.Write(image.NewRGBA(image.Rect(0, 0, 32, 24))); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := c.Open(context.Background(), "file://"+path, size)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Info().Frames != 3 {
		t.Errorf("probed %d frames, want 3", r.Info().Frames)
	}
	if err := r.Skip(1); err != nil {
		t.Fatal(err)
	}
	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("read %d frames after skipping 1, want 2", n)
	}
}

func TestCodec_open_missing_file(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	_, err := New("", "").Open(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"), media.Size{Width: 8, Height: 8})
	if !errors.Is(err, media.ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

// Package ffmpeg implements media.Codec on top of the ffmpeg and ffprobe
// binaries. Frames cross the process boundary as raw RGBA over pipes.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"cctv-archive/internal/media"
)

// Codec writes MPEG-4 video in an .mp4 container and reads anything ffmpeg
// can open.
type Codec struct {
	FFmpeg  string
	FFprobe string
}

// New returns a Codec using the given binaries. Empty paths fall back to
// "ffmpeg" and "ffprobe" on PATH.
func New(ffmpegPath, ffprobePath string) *Codec {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Codec{FFmpeg: ffmpegPath, FFprobe: ffprobePath}
}

// Ext implements media.Codec.
func (c *Codec) Ext() string { return "mp4" }

// Open implements media.Codec. The decoder process is bound to ctx.
// Without an explicit size the probed stream size is used.
func (c *Codec) Open(ctx context.Context, origin string, size media.Size) (media.Reader, error) {
	input := origin
	if p, ok := media.LocalPath(origin); ok {
		input = p
	}

	pr, err := c.probe(ctx, input)
	if err != nil {
		return nil, err
	}
	if size.Width == 0 || size.Height == 0 {
		size = media.Size{Width: pr.Width, Height: pr.Height}
	}
	if size.Width == 0 || size.Height == 0 {
		return nil, fmt.Errorf("%w: no video stream in %s", media.ErrDecode, origin)
	}

	cmd := exec.CommandContext(ctx, c.FFmpeg, decodeArgs(input, size)...)
	stderr := &tail{max: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", media.ErrSourceUnavailable, err)
	}
	return &decoder{
		cmd:    cmd,
		out:    stdout,
		stderr: stderr,
		size:   size,
		info:   media.StreamInfo{Frames: pr.Frames, FPS: pr.FPS},
	}, nil
}

// Create implements media.Codec.
func (c *Codec) Create(path string, fps float64, size media.Size) (media.Writer, error) {
	cmd := exec.Command(c.FFmpeg, encodeArgs(path, fps, size)...)
	stderr := &tail{max: 4096}
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &encoder{cmd: cmd, in: stdin, stderr: stderr, size: size}, nil
}

func decodeArgs(input string, size media.Size) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", input,
		"-an", "-sn",
		"-vf", fmt.Sprintf("scale=%d:%d", size.Width, size.Height),
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-",
	}
}

func encodeArgs(path string, fps float64, size media.Size) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", size.String(),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "mpeg4", "-q:v", "5", "-pix_fmt", "yuv420p",
		"-f", "mp4",
		path,
	}
}

type decoder struct {
	cmd    *exec.Cmd
	out    io.ReadCloser
	stderr *tail
	size   media.Size
	info   media.StreamInfo
	closed bool
}

func (d *decoder) Info() media.StreamInfo { return d.info }

func (d *decoder) Read() (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.size.Width, d.size.Height))
	if err := d.fill(img.Pix); err != nil {
		return nil, err
	}
	return img, nil
}

func (d *decoder) Skip(n int) error {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, d.size.Width*d.size.Height*4)
	for i := 0; i < n; i++ {
		if err := d.fill(buf); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) fill(buf []byte) error {
	_, err := io.ReadFull(d.out, buf)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		if werr := d.wait(); werr != nil {
			return werr
		}
		return io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		d.wait()
		return fmt.Errorf("%w: partial frame from ffmpeg: %s", media.ErrDecode, d.stderr)
	default:
		return fmt.Errorf("%w: %v", media.ErrDecode, err)
	}
}

// wait reaps the process once the pipe has drained.
func (d *decoder) wait() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: ffmpeg: %v: %s", media.ErrDecode, err, d.stderr)
	}
	return nil
}

func (d *decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.out.Close()
	if d.cmd.Process != nil {
		d.cmd.Process.Kill()
	}
	d.cmd.Wait()
	return nil
}

type encoder struct {
	cmd    *exec.Cmd
	in     io.WriteCloser
	stderr *tail
	size   media.Size
	buf    *image.RGBA
}

func (e *encoder) Write(img image.Image) error {
	b := img.Bounds()
	if b.Dx() != e.size.Width || b.Dy() != e.size.Height {
		return fmt.Errorf("frame is %dx%d, writer expects %s", b.Dx(), b.Dy(), e.size)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != 4*e.size.Width || b.Min != (image.Point{}) {
		rgba = media.Fit(img, e.size)
	}
	if _, err := e.in.Write(rgba.Pix[:4*e.size.Width*e.size.Height]); err != nil {
		return fmt.Errorf("ffmpeg encoder: %w: %s", err, e.stderr)
	}
	return nil
}

// Close ends the input and waits for ffmpeg to write the trailer.
func (e *encoder) Close() error {
	e.in.Close()
	if err := e.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoder: %w: %s", err, e.stderr)
	}
	return nil
}

type probeResult struct {
	Frames int
	FPS    float64
	Width  int
	Height int
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		NbFrames     string `json:"nb_frames"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
	} `json:"streams"`
}

func (c *Codec) probe(ctx context.Context, input string) (probeResult, error) {
	cmd := exec.CommandContext(ctx, c.FFprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames,avg_frame_rate,r_frame_rate",
		"-of", "json",
		input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return probeResult{}, ctxErr
		}
		return probeResult{}, fmt.Errorf("%w: ffprobe %s: %v: %s", media.ErrSourceUnavailable, input, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (probeResult, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return probeResult{}, fmt.Errorf("%w: ffprobe output: %v", media.ErrDecode, err)
	}
	if len(po.Streams) == 0 {
		return probeResult{}, fmt.Errorf("%w: no video stream", media.ErrDecode)
	}
	s := po.Streams[0]
	res := probeResult{Width: s.Width, Height: s.Height}
	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		res.Frames = n
	}
	res.FPS = parseRate(s.AvgFrameRate)
	if res.FPS == 0 {
		res.FPS = parseRate(s.RFrameRate)
	}
	return res, nil
}

// parseRate parses ffprobe rates such as "30000/1001" or "25". Anything
// unparseable, including "0/0" and "N/A", is 0.
func parseRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

// tail keeps the last max bytes written to it, for error messages.
type tail struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for still-image sources
	_ "image/png"
	"io"
	"net/http"
	"os"
)

// Source yields successive frames from one origin.
//
// Variants:
//   - video: a finite file; HasNext is bounded by the probed frame count and
//     Read returns io.EOF once the file runs out.
//   - stream: a live feed; HasNext is always true and the end of input is a
//     decode error, not exhaustion.
//   - image: a single still; exactly one frame, then HasNext is false.
type Source interface {
	Kind() Kind
	// NativeFPS is the origin's own frame rate, 0 if unknown.
	NativeFPS() float64
	HasNext() bool
	Read(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// Skipper is implemented by sources that can drop frames without returning
// them. Still images do not implement it.
type Skipper interface {
	Skip(ctx context.Context, n int) error
}

// Opener opens frame sources by origin URL or path.
type Opener interface {
	Open(ctx context.Context, origin string) (Source, error)
}

// SourceOpener dispatches on the origin kind. Video files and non-MJPEG
// streams go through Video; ".mjpg" streams go through Stream; images are
// fetched directly.
type SourceOpener struct {
	Video  Codec
	Stream Codec
	Size   Size
	Client *http.Client
}

// NewOpener returns a SourceOpener. A nil stream codec falls back to video;
// a nil client uses http.DefaultClient.
func NewOpener(video, stream Codec, size Size, client *http.Client) *SourceOpener {
	if stream == nil {
		stream = video
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SourceOpener{Video: video, Stream: stream, Size: size, Client: client}
}

// Open implements Opener.
func (o *SourceOpener) Open(ctx context.Context, origin string) (Source, error) {
	kind := KindOf(origin)
	switch kind {
	case KindImage:
		src, err := openImage(ctx, o.Client, origin, o.Size)
		if err != nil {
			return nil, err
		}
		return src, nil
	case KindVideo, KindStream:
	default:
		return nil, fmt.Errorf("%w: unknown source extension in %q", ErrUnsupported, origin)
	}

	codec := o.Video
	if kind == KindStream && Ext(origin) == "mjpg" {
		codec = o.Stream
	}
	r, err := codec.Open(ctx, origin, o.Size)
	if err != nil {
		return nil, err
	}
	return &videoSource{kind: kind, r: r, info: r.Info()}, nil
}

type videoSource struct {
	kind Kind
	r    Reader
	info StreamInfo
	pos  int
	done bool
}

func (s *videoSource) Kind() Kind         { return s.kind }
func (s *videoSource) NativeFPS() float64 { return s.info.FPS }

func (s *videoSource) HasNext() bool {
	if s.done {
		return false
	}
	if s.kind == KindVideo && s.info.Frames > 0 {
		return s.pos < s.info.Frames
	}
	return true
}

func (s *videoSource) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := s.r.Read()
	if err != nil {
		return nil, s.readErr(ctx, err)
	}
	s.pos++
	return img, nil
}

func (s *videoSource) Skip(ctx context.Context, n int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.r.Skip(n); err != nil {
		return s.readErr(ctx, err)
	}
	s.pos += n
	return nil
}

func (s *videoSource) readErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		if s.kind == KindStream {
			return fmt.Errorf("%w: stream ended", ErrDecode)
		}
		s.done = true
		return io.EOF
	}
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDecode, err)
}

func (s *videoSource) Close() error {
	return s.r.Close()
}

// imageSource is a single-shot producer: the still is fetched and decoded at
// open time and handed out once.
type imageSource struct {
	frame *image.RGBA
}

func openImage(ctx context.Context, client *http.Client, origin string, size Size) (*imageSource, error) {
	data, err := fetch(ctx, client, origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: image %s: %v", ErrDecode, origin, err)
	}
	return &imageSource{frame: Fit(img, size)}, nil
}

func (s *imageSource) Kind() Kind         { return KindImage }
func (s *imageSource) NativeFPS() float64 { return 0 }
func (s *imageSource) HasNext() bool      { return s.frame != nil }
func (s *imageSource) Close() error       { return nil }

func (s *imageSource) Read(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.frame == nil {
		return nil, io.EOF
	}
	img := s.frame
	s.frame = nil
	return img, nil
}

// fetch reads a local file or an http(s) resource into memory.
func fetch(ctx context.Context, client *http.Client, origin string) ([]byte, error) {
	if p, ok := LocalPath(origin); ok {
		return os.ReadFile(p)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", origin, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

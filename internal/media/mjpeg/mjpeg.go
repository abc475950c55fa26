// Package mjpeg is a pure-Go Motion-JPEG codec. Files are raw concatenated
// JPEG images, the layout ffmpeg reads and writes with "-f mjpeg". Remote
// origins are read either as multipart/x-mixed-replace (the usual IP camera
// ".mjpg" feed) or as a raw concatenated body.
package mjpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"cctv-archive/internal/media"
)

// DefaultQuality is the JPEG quality used by Create.
const DefaultQuality = 90

// Codec implements media.Codec.
type Codec struct {
	client  *http.Client
	quality int
}

// New returns a Codec. A nil client uses http.DefaultClient.
func New(client *http.Client) *Codec {
	if client == nil {
		client = http.DefaultClient
	}
	return &Codec{client: client, quality: DefaultQuality}
}

// Ext implements media.Codec.
func (c *Codec) Ext() string { return "mjpeg" }

// Create implements media.Codec. The frame rate is not stored in the file.
func (c *Codec) Create(path string, _ float64, size media.Size) (media.Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &writer{f: f, bw: bufio.NewWriter(f), size: size, quality: c.quality}, nil
}

// Open implements media.Codec. Local files report their frame count; remote
// feeds report 0 (unknown). Neither reports a native frame rate.
func (c *Codec) Open(ctx context.Context, origin string, size media.Size) (media.Reader, error) {
	if p, ok := media.LocalPath(origin); ok {
		r, err := openFile(p, size)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return c.openRemote(ctx, origin, size)
}

type writer struct {
	f       *os.File
	bw      *bufio.Writer
	size    media.Size
	quality int
}

func (w *writer) Write(img image.Image) error {
	b := img.Bounds()
	if w.size.Width > 0 && (b.Dx() != w.size.Width || b.Dy() != w.size.Height) {
		return fmt.Errorf("frame is %dx%d, writer expects %s", b.Dx(), b.Dy(), w.size)
	}
	return jpeg.Encode(w.bw, img, &jpeg.Options{Quality: w.quality})
}

func (w *writer) Close() error {
	err := w.bw.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// frameReader decodes JPEG frames split out of a byte stream.
type frameReader struct {
	br     *bufio.Reader
	buf    bytes.Buffer
	closer io.Closer
	size   media.Size
	info   media.StreamInfo
}

func openFile(path string, size media.Size) (*frameReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	r := &frameReader{br: bufio.NewReader(f), closer: f, size: size}

	n := r.count()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	r.br.Reset(f)
	r.info.Frames = n
	return r, nil
}

// count returns the number of complete frames ahead. A truncated tail, as left
// by an interrupted writer, ends the count.
func (r *frameReader) count() int {
	n := 0
	for readFrame(r.br, &r.buf) == nil {
		n++
	}
	return n
}

func (r *frameReader) Info() media.StreamInfo { return r.info }

func (r *frameReader) Read() (*image.RGBA, error) {
	if err := readFrame(r.br, &r.buf); err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(bytes.NewReader(r.buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDecode, err)
	}
	return media.Fit(img, r.size), nil
}

// Skip splits frames off the stream without decoding them.
func (r *frameReader) Skip(n int) error {
	for i := 0; i < n; i++ {
		if err := readFrame(r.br, &r.buf); err != nil {
			return err
		}
	}
	return nil
}

func (r *frameReader) Close() error { return r.closer.Close() }

// partReader decodes one JPEG per multipart part.
type partReader struct {
	mr   *multipart.Reader
	body io.Closer
	size media.Size
}

func (c *Codec) openRemote(ctx context.Context, origin string, size media.Size) (media.Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrSourceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: GET %s: %s", media.ErrSourceUnavailable, origin, resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		return &partReader{mr: multipart.NewReader(resp.Body, params["boundary"]), body: resp.Body, size: size}, nil
	}
	return &frameReader{br: bufio.NewReader(resp.Body), closer: resp.Body, size: size}, nil
}

func (r *partReader) Info() media.StreamInfo { return media.StreamInfo{} }

func (r *partReader) next() (*multipart.Part, error) {
	p, err := r.mr.NextPart()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDecode, err)
	}
	return p, nil
}

func (r *partReader) Read() (*image.RGBA, error) {
	p, err := r.next()
	if err != nil {
		return nil, err
	}
	img, err := jpeg.Decode(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrDecode, err)
	}
	return media.Fit(img, r.size), nil
}

func (r *partReader) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.next(); err != nil {
			return err
		}
	}
	return nil
}

func (r *partReader) Close() error { return r.body.Close() }

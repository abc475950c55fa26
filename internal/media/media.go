// Package media holds the frame-level capabilities the archive is built on:
// frame sources (video file, live stream, still image), the codec contract used
// to write and re-read chunk files, resizing, and the timestamp overlay.
package media

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

var (
	// ErrSourceUnavailable is returned when an origin cannot be reached or opened.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrDecode is returned when a frame cannot be retrieved from an opened input.
	ErrDecode = errors.New("decode error")

	// ErrUnsupported is returned for origins whose kind cannot be determined.
	ErrUnsupported = errors.New("unsupported source")
)

// Size is an output frame size in pixels.
type Size struct {
	Width  int
	Height int
}

// ParseSize parses "WIDTHxHEIGHT", e.g. "640x480".
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("frame size %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("frame size %q: width: %w", s, err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("frame size %q: height: %w", s, err)
	}
	if width <= 0 || height <= 0 {
		return Size{}, fmt.Errorf("frame size %q: dimensions must be positive", s)
	}
	return Size{Width: width, Height: height}, nil
}

func (s Size) String() string {
	return strconv.Itoa(s.Width) + "x" + strconv.Itoa(s.Height)
}

// Kind classifies an origin.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindStream
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindStream:
		return "stream"
	case KindImage:
		return "image"
	default:
		return "unknown"
	}
}

var kindsByExt = map[string]Kind{
	"mp4":  KindVideo,
	"avi":  KindVideo,
	"mkv":  KindVideo,
	"mov":  KindVideo,
	"mjpg": KindStream,
	"m3u8": KindStream,
	"png":  KindImage,
	"jpg":  KindImage,
	"jpeg": KindImage,
}

// KindOf classifies an origin URL or path by its extension. rtsp and rtmp
// URLs are live streams regardless of extension.
func KindOf(origin string) Kind {
	if u, err := url.Parse(origin); err == nil {
		switch strings.ToLower(u.Scheme) {
		case "rtsp", "rtsps", "rtmp":
			return KindStream
		}
	}
	return kindsByExt[Ext(origin)]
}

// Ext returns the lower-cased extension of an origin without the dot,
// ignoring any query string.
func Ext(origin string) string {
	p, _, _ := strings.Cut(origin, "?")
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}

// LocalPath reports whether origin refers to the local filesystem and
// returns the path with any file:// scheme removed.
func LocalPath(origin string) (string, bool) {
	if rest, ok := strings.CutPrefix(origin, "file://"); ok {
		return rest, true
	}
	if strings.Contains(origin, "://") {
		return "", false
	}
	return origin, true
}

// Corner selects where the timestamp overlay is drawn.
type Corner int

const (
	BottomRight Corner = iota
	BottomLeft
	TopRight
	TopLeft
)

// ParseCorner parses "bottom-right", "bottom-left", "top-right" or "top-left".
func ParseCorner(s string) (Corner, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bottom-right":
		return BottomRight, nil
	case "bottom-left":
		return BottomLeft, nil
	case "top-right":
		return TopRight, nil
	case "top-left":
		return TopLeft, nil
	}
	return BottomRight, fmt.Errorf("timestamp corner %q: want top-left, top-right, bottom-left or bottom-right", s)
}

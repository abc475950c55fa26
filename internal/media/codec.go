package media

import (
	"context"
	"image"
)

// StreamInfo describes an opened input. Frames is 0 when the total is unknown
// (live streams); FPS is 0 when the native rate is unknown.
type StreamInfo struct {
	Frames int
	FPS    float64
}

// Reader yields decoded frames, already scaled to the size requested at Open.
// Read returns io.EOF once a finite input is exhausted.
type Reader interface {
	Info() StreamInfo
	Read() (*image.RGBA, error)
	// Skip advances the read position by n frames without returning them.
	Skip(n int) error
	Close() error
}

// Writer encodes frames into one output file. Close finalizes the file.
type Writer interface {
	Write(img image.Image) error
	Close() error
}

// Codec is the encode/decode capability for one container format.
type Codec interface {
	// Ext is the file extension (without dot) of files produced by Create.
	Ext() string
	// Open starts decoding origin. Blocking reads observe ctx.
	Open(ctx context.Context, origin string, size Size) (Reader, error)
	// Create opens an encoder writing to path. The encoder is deliberately not
	// bound to a context: it must stay usable to finalize after cancellation.
	Create(path string, fps float64, size Size) (Writer, error)
}

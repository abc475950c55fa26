package mjpeg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"cctv-archive/internal/media"
)

// JPEG markers that matter for framing.
const (
	markerTEM  = 0x01
	markerRST0 = 0xD0
	markerRST7 = 0xD7
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
)

// readFrame copies the next complete JPEG image from r into buf. Bytes before
// the start-of-image marker are skipped. It returns io.EOF when r ends before
// another image starts.
func readFrame(r *bufio.Reader, buf *bytes.Buffer) error {
	buf.Reset()
	if err := seekSOI(r); err != nil {
		return err
	}
	buf.Write([]byte{0xFF, markerSOI})

	marker, err := readMarker(r)
	for {
		if err != nil {
			return truncated(err)
		}
		buf.Write([]byte{0xFF, marker})

		switch {
		case marker == markerEOI:
			return nil
		case marker == markerTEM || (marker >= markerRST0 && marker <= markerRST7):
			marker, err = readMarker(r)
			continue
		}

		var lb [2]byte
		if _, err = io.ReadFull(r, lb[:]); err != nil {
			return truncated(err)
		}
		n := int(binary.BigEndian.Uint16(lb[:]))
		if n < 2 {
			return fmt.Errorf("%w: segment 0x%02X has length %d", media.ErrDecode, marker, n)
		}
		buf.Write(lb[:])
		if _, err = io.CopyN(buf, r, int64(n-2)); err != nil {
			return truncated(err)
		}

		if marker == markerSOS {
			marker, err = scanEntropy(r, buf)
		} else {
			marker, err = readMarker(r)
		}
	}
}

func seekSOI(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		m, err := r.ReadByte()
		if err != nil {
			return err
		}
		if m == markerSOI {
			return nil
		}
		if m == 0xFF {
			_ = r.UnreadByte()
		}
	}
}

// readMarker reads a marker, skipping fill bytes.
func readMarker(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != 0xFF {
		return 0, fmt.Errorf("%w: expected marker, found 0x%02X", media.ErrDecode, b)
	}
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			return b, nil
		}
	}
}

// scanEntropy copies entropy-coded scan data into buf and returns the marker
// that terminates it. Stuffed zero bytes and restart markers belong to the scan.
func scanEntropy(r *bufio.Reader, buf *bytes.Buffer) (byte, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			buf.WriteByte(b)
			continue
		}
		m, err := r.ReadByte()
		for err == nil && m == 0xFF {
			m, err = r.ReadByte()
		}
		if err != nil {
			return 0, err
		}
		if m == 0x00 || (m >= markerRST0 && m <= markerRST7) {
			buf.WriteByte(0xFF)
			buf.WriteByte(m)
			continue
		}
		return m, nil
	}
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated JPEG frame", media.ErrDecode)
	}
	if errors.Is(err, media.ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %v", media.ErrDecode, err)
}

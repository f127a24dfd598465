package stream

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Decoder reads length-delimited frames from a stream.
//
// A frame is a decimal length, a newline, then exactly that many bytes.
// A line holding only the terminator is a keep-alive.
type Decoder struct {
	r        *bufio.Reader
	maxSize  int
	consumed int64

	// OnReceive is called after every successfully read frame,
	// keep-alives included.
	OnReceive func()
}

// NewDecoder creates a Decoder over r. maxSize <= 0 disables the size guard.
func NewDecoder(r io.Reader, maxSize int) *Decoder {
	return &Decoder{
		r:       bufio.NewReader(r),
		maxSize: maxSize,
	}
}

// ReadMessage returns the next payload, or nil for a keep-alive.
//
// Fails with ErrStreamRead when the underlying stream yields no bytes and
// with ErrBadFrame when the length prefix cannot be parsed. A partially read
// frame is discarded; the stream cannot be resumed after an error.
func (d *Decoder) ReadMessage() ([]byte, error) {
	var prefix strings.Builder
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStreamRead, err)
		}
		d.consumed++
		prefix.WriteByte(b)
		if b == '\n' {
			break
		}
		if prefix.Len() > 20 {
			return nil, fmt.Errorf("%w: %q", ErrBadFrame, prefix.String())
		}
	}

	// Only "\r\n" (or "\n"): keep-alive.
	if prefix.Len() <= 2 && strings.TrimSpace(prefix.String()) == "" {
		d.received()
		return nil, nil
	}

	n, err := strconv.Atoi(strings.TrimSpace(prefix.String()))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: %q", ErrBadFrame, prefix.String())
	}
	if d.maxSize > 0 && n > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, n, d.maxSize)
	}

	payload := make([]byte, n)
	read, err := io.ReadFull(d.r, payload)
	d.consumed += int64(read)
	if err != nil {
		return nil, fmt.Errorf("%w: got %d of %d bytes: %v", ErrStreamRead, read, n, err)
	}

	d.received()
	if n == 0 {
		return nil, nil
	}
	return payload, nil
}

// Consumed returns the number of bytes read from the stream so far.
func (d *Decoder) Consumed() int64 {
	return d.consumed
}

func (d *Decoder) received() {
	if d.OnReceive != nil {
		d.OnReceive()
	}
}

// Package stream turns a chunked HTTP response body into discrete text frames.
//
// A frame is the text found between two blank-line separators ("\n\n") in the
// UTF-8 decoded body. Bytes are decoded incrementally, so a code point split
// across two reads is reassembled before it reaches the frame buffer. Text left
// after the final separator when the body ends is not a complete frame and is
// dropped.
package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"net/http"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const readSize = 4 << 10

var separator = []byte("\n\n")

// Decoder reassembles frames from a byte source.
type Decoder struct {
	src   io.Reader
	chunk []byte
	buf   []byte
	// scan is where the next separator search starts; everything before it
	// is known to be separator-free.
	scan int
	err  error
}

// NewDecoder creates a decoder reading from r. Invalid UTF-8 is replaced
// with U+FFFD, incomplete trailing sequences are held until the next read.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		src:   transform.NewReader(r, unicode.UTF8.NewDecoder()),
		chunk: make([]byte, readSize),
	}
}

// Open validates a chat-stream response and returns a decoder over its body.
// A non-2xx status or a missing body yields *HTTPError and closes the body.
func Open(resp *http.Response) (*Decoder, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body string
		if resp.Body != nil {
			body = readErrorBody(resp.Body)
			resp.Body.Close()
		}
		return nil, &HTTPError{Status: resp.StatusCode, Body: body}
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &HTTPError{Status: resp.StatusCode}
	}
	return NewDecoder(resp.Body), nil
}

// Next returns the next complete frame. It returns io.EOF once the source is
// exhausted and *TransportError if a read fails; both are sticky.
func (d *Decoder) Next() (string, error) {
	for {
		if i := bytes.Index(d.buf[d.scan:], separator); i >= 0 {
			end := d.scan + i
			frame := string(d.buf[:end])
			d.buf = append(d.buf[:0], d.buf[end+len(separator):]...)
			d.scan = 0
			return frame, nil
		}
		if d.err != nil {
			d.buf = nil
			d.scan = 0
			return "", d.err
		}

		// A separator may straddle the old tail and the new chunk.
		if len(d.buf) > 0 {
			d.scan = len(d.buf) - 1
		}

		n, err := d.src.Read(d.chunk)
		d.buf = append(d.buf, d.chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.err = io.EOF
			} else {
				d.err = &TransportError{Err: err}
			}
		}
	}
}

// Frames yields the remaining frames. Iteration stops at end of stream; a
// transport failure is yielded once as the final element. Each call resumes
// where the previous one stopped.
func (d *Decoder) Frames() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			frame, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(frame, nil) {
				return
			}
		}
	}
}

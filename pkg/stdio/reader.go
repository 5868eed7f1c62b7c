// Package stdio implements the newline-delimited JSON-RPC framing the gateway
// speaks with its host: one UTF-8 JSON object per line on stdin, one compact
// JSON line per response on stdout. stdout carries protocol frames only;
// anything diagnostic belongs on stderr.
package stdio

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// maxFrameSize bounds a single inbound line. Tool arguments can embed large
// payloads, so this is generous.
const maxFrameSize = 16 * 1024 * 1024

// ErrFrameTooLarge reports a line exceeding the frame size cap. The oversized
// line has been discarded and the reader stays usable, so the caller can
// answer with an error envelope and keep the session alive.
var ErrFrameTooLarge = errors.New("input line exceeds maximum frame size")

// FrameReader yields inbound frames from a line-delimited stream.
type FrameReader struct {
	r   *bufio.Reader
	max int
}

func NewFrameReader(r io.Reader) *FrameReader {
	return newFrameReader(r, maxFrameSize)
}

func newFrameReader(r io.Reader, max int) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// Next returns the next non-blank line, without its trailing newline. Blank
// lines are skipped. Returns io.EOF once the stream ends, ErrFrameTooLarge for
// a line over the size cap. The returned slice is a copy and stays valid
// across subsequent calls.
func (r *FrameReader) Next() ([]byte, error) {
	for {
		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

func (r *FrameReader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		if len(line)+len(chunk) > r.max {
			if err == bufio.ErrBufferFull {
				if derr := r.discardLine(); derr != nil {
					return nil, derr
				}
			}
			return nil, ErrFrameTooLarge
		}
		line = append(line, chunk...)
		switch err {
		case nil:
			return line, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if len(line) == 0 {
				return nil, io.EOF
			}
			return line, nil
		default:
			return nil, err
		}
	}
}

// discardLine drops the remainder of an oversized line so the reader resumes
// at the next frame boundary.
func (r *FrameReader) discardLine() error {
	for {
		_, err := r.r.ReadSlice('\n')
		switch err {
		case nil, io.EOF:
			return nil
		case bufio.ErrBufferFull:
			continue
		default:
			return err
		}
	}
}

package ingest

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	readBufSize = 64 * 1024
	// maxLineLen bounds a single record. Longer lines are skipped.
	maxLineLen = 8 * 1024 * 1024
)

// lineReader yields the non-blank lines of JSONL input with their
// physical line numbers. Lines longer than max bytes are discarded
// without buffering them whole and counted in oversized.
type lineReader struct {
	br        *bufio.Reader
	max       int
	line      []byte
	lineNo    int
	oversized int
	err       error
}

func newLineReader(r io.Reader, max int) *lineReader {
	return &lineReader{
		br:  bufio.NewReaderSize(r, readBufSize),
		max: max,
	}
}

// next returns the next non-blank line within the length limit.
// ok is false at end of input or after a read error; Err tells the
// two apart.
func (lr *lineReader) next() (line string, lineNo int, ok bool) {
	for {
		b, tooLong, err := lr.read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				lr.err = err
			}
			return "", lr.lineNo, false
		}
		lr.lineNo++
		switch {
		case tooLong:
			lr.oversized++
		case len(b) > 0:
			return string(b), lr.lineNo, true
		}
	}
}

// Err returns the read error that ended input, if it was not EOF.
func (lr *lineReader) Err() error { return lr.err }

// read returns one physical line without its terminator. Once a
// line passes the limit its remaining fragments are dropped.
func (lr *lineReader) read() ([]byte, bool, error) {
	lr.line = lr.line[:0]
	tooLong := false
	for {
		frag, err := lr.br.ReadSlice('\n')
		if !tooLong {
			lr.line = append(lr.line, frag...)
			// Allow for the terminator not yet trimmed.
			if len(lr.line) > lr.max+2 {
				tooLong = true
				lr.line = lr.line[:0]
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(lr.line) == 0 && !tooLong {
				return nil, false, io.EOF
			}
		default:
			return nil, false, err
		}
		break
	}
	if tooLong {
		return nil, true, nil
	}
	line := bytes.TrimSuffix(bytes.TrimSuffix(lr.line, []byte("\n")), []byte("\r"))
	if len(line) > lr.max {
		return nil, true, nil
	}
	return line, false, nil
}

// Package parser splits a byte stream into delimiter-terminated records.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultDelimiter separates newline-terminated records.
var DefaultDelimiter = []byte{'\n'}

// Parser reads records from an input stream.
type Parser struct {
	reader *bufio.Reader
	delim  []byte
	last   byte
	crlf   bool   // strip a trailing '\r' as well
	record []byte // reusable buffer for reading records
}

// New creates a parser splitting r on delim. An empty delim selects
// DefaultDelimiter.
func New(r io.Reader, delim []byte) *Parser {
	if len(delim) == 0 {
		delim = DefaultDelimiter
	}
	return &Parser{
		reader: bufio.NewReaderSize(r, 1<<20), // 1MB buffer
		delim:  bytes.Clone(delim),
		last:   delim[len(delim)-1],
		crlf:   bytes.Equal(delim, DefaultDelimiter),
		record: make([]byte, 0, 512),
	}
}

// Next reads and returns the next record without its delimiter. The final
// record may lack a delimiter. The returned slice is only valid until the
// next call. Returns io.EOF when no more records are available.
func (p *Parser) Next() ([]byte, error) {
	p.record = p.record[:0]

	for {
		segment, err := p.reader.ReadSlice(p.last)
		p.record = append(p.record, segment...)

		if err == nil {
			if bytes.HasSuffix(p.record, p.delim) {
				p.record = p.record[:len(p.record)-len(p.delim)]
				break
			}
			continue
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(p.record) > 0 {
			break
		}
		return nil, err
	}

	if p.crlf {
		// Trim any trailing CR (for Windows line endings)
		p.record = bytes.TrimSuffix(p.record, []byte{'\r'})
	}
	return p.record, nil
}

// NextBatch reads up to n records into a batch.
// Returns the records read and any error encountered.
// If fewer than n records are available, returns what's available.
// Unlike Next, the returned records stay valid.
func (p *Parser) NextBatch(n int) ([][]byte, error) {
	batch := make([][]byte, 0, n)

	// One backing buffer for the whole batch; records are carved from it.
	var dataBuf []byte
	for range n {
		rec, err := p.Next()
		if err != nil {
			if errors.Is(err, io.EOF) && len(batch) > 0 {
				return batch, nil
			}
			return batch, err
		}
		start := len(dataBuf)
		dataBuf = append(dataBuf, rec...)
		batch = append(batch, dataBuf[start:len(dataBuf):len(dataBuf)])
	}
	return batch, nil
}

// Count returns the number of records remaining in the stream.
func (p *Parser) Count() (int, error) {
	n := 0
	for {
		_, err := p.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

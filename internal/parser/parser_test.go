package parser

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, p *Parser) []string {
	t.Helper()
	var out []string
	for {
		rec, err := p.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, string(rec))
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		delim string
		want  []string
	}{
		{"lines", "a\nbb\nccc\n", "", []string{"a", "bb", "ccc"}},
		{"missing final delimiter", "a\nbb", "\n", []string{"a", "bb"}},
		{"empty records", "a\n\nb\n", "\n", []string{"a", "", "b"}},
		{"crlf", "a\r\nb\r\n", "\n", []string{"a", "b"}},
		{"empty input", "", "\n", nil},
		{"nul delimiter", "x\x00y\x00", "\x00", []string{"x", "y"}},
		{"multi-byte delimiter", "r1\n//\nr2\n/\nr2b\n//\n", "\n//\n", []string{"r1", "r2\n/\nr2b"}},
		{"delimiter prefix repeats", "aa;;;b;;", ";;", []string{"aa", ";b"}},
		{"cr kept for other delimiters", "a\r;b", ";", []string{"a\r", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := New(strings.NewReader(tt.input), []byte(tt.delim))
			assert.Equal(t, tt.want, readAll(t, p))
		})
	}
}

func TestNext_LongRecord(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("ACGT", 1<<19) // 2 MiB, larger than the read buffer
	input := long + "\nshort\n"

	p := New(iotest.HalfReader(strings.NewReader(input)), nil)
	assert.Equal(t, []string{long, "short"}, readAll(t, p))
}

func TestNext_ReadError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	p := New(iotest.ErrReader(errBoom), nil)
	_, err := p.Next()
	require.ErrorIs(t, err, errBoom)
}

func TestNextBatch(t *testing.T) {
	t.Parallel()

	var input bytes.Buffer
	for i := range 10 {
		input.WriteString(strings.Repeat("x", i+1))
		input.WriteByte('\n')
	}

	p := New(&input, nil)

	batch, err := p.NextBatch(4)
	require.NoError(t, err)
	require.Len(t, batch, 4)
	for i, rec := range batch {
		assert.Len(t, rec, i+1)
	}

	batch, err = p.NextBatch(4)
	require.NoError(t, err)
	require.Len(t, batch, 4)
	assert.Equal(t, "xxxxx", string(batch[0]))

	batch, err = p.NextBatch(4)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, strings.Repeat("x", 10), string(batch[1]))

	batch, err = p.NextBatch(4)
	require.ErrorIs(t, err, io.EOF)
	assert.Empty(t, batch)
}

func TestNextBatch_RecordsStayValid(t *testing.T) {
	t.Parallel()

	p := New(strings.NewReader("first\nsecond\nthird\n"), nil)
	batch, err := p.NextBatch(3)
	require.NoError(t, err)

	_, err = p.Next()
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{string(batch[0]), string(batch[1]), string(batch[2])})
}

func TestCount(t *testing.T) {
	t.Parallel()

	p := New(strings.NewReader("a\nb\nc"), nil)
	n, err := p.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

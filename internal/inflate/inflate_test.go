package inflate

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func backends() []Backend {
	return []Backend{NewBatched(4), NewBatched(1), NewInflate()}
}

func TestDecompress_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		t.Run(b.Name(), func(t *testing.T) {
			t.Parallel()

			var originals, inputs, outputs [][]byte
			for i := range 50 {
				data := bytes.Repeat([]byte(fmt.Sprintf("block %d;", i)), i*37)
				originals = append(originals, data)
				inputs = append(inputs, deflate(t, data))
				outputs = append(outputs, make([]byte, len(data)))
			}
			results := make([]Result, len(inputs))

			require.NoError(t, b.Decompress(inputs, outputs, results))
			for i := range inputs {
				assert.Equal(t, StatusSuccess, results[i].Status, "block %d", i)
				assert.Equal(t, len(originals[i]), results[i].BytesWritten)
				assert.Equal(t, originals[i], outputs[i])
			}
		})
	}
}

func TestDecompress_PerBlockFailures(t *testing.T) {
	t.Parallel()

	data := []byte("the quick brown fox jumps over the lazy dog")
	good := deflate(t, data)

	for _, b := range backends() {
		t.Run(b.Name(), func(t *testing.T) {
			t.Parallel()

			inputs := [][]byte{good, {0xff, 0xff, 0xff}, good, good}
			outputs := [][]byte{
				make([]byte, len(data)),
				make([]byte, 10),
				make([]byte, len(data)-5), // too small
				make([]byte, len(data)+5), // too large
			}
			results := make([]Result, len(inputs))

			require.NoError(t, b.Decompress(inputs, outputs, results))
			assert.Equal(t, StatusSuccess, results[0].Status)
			assert.Equal(t, StatusFailure, results[1].Status)
			assert.Equal(t, StatusOutputOverflow, results[2].Status)
			assert.Equal(t, StatusFailure, results[3].Status)
			assert.Equal(t, len(data), results[3].BytesWritten)
		})
	}
}

func TestDecompress_EmptyBlock(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		results := make([]Result, 1)
		require.NoError(t, b.Decompress([][]byte{deflate(t, nil)}, [][]byte{{}}, results))
		assert.Equal(t, Result{Status: StatusSuccess}, results[0], b.Name())
	}
}

func TestDecompress_BatchShape(t *testing.T) {
	t.Parallel()

	for _, b := range backends() {
		err := b.Decompress(make([][]byte, 2), make([][]byte, 1), make([]Result, 2))
		assert.ErrorIs(t, err, ErrBatchShape, b.Name())
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	b, err := New("", 0)
	require.NoError(t, err)
	assert.Equal(t, NameBatched, b.Name())

	b, err = New(NameInflate, 0)
	require.NoError(t, err)
	assert.Equal(t, NameInflate, b.Name())

	_, err = New("nvcomp", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown inflate backend")
}

func TestStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "output overflow", StatusOutputOverflow.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

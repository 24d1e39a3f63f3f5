package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestAddUint64(t *testing.T) {
	t.Parallel()

	sum, ok := AddUint64(3, 4)
	assert.True(t, ok)
	assert.Equal(t, uint64(7), sum)

	_, ok = AddUint64(math.MaxUint64, 1)
	assert.False(t, ok)
}

func TestWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name              string
		size, off, length uint64
		want              uint64
		ok                bool
	}{
		{"full", 5, 0, 5, 5, true},
		{"clipped", 5, 3, 10, 2, true},
		{"at end", 5, 5, 1, 0, true},
		{"past end", 5, 6, 1, 0, false},
		{"empty entry", 0, 0, 4, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, ok := Window(tt.size, tt.off, tt.length)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestToInt64Overflow(t *testing.T) {
	t.Parallel()

	_, err := ToInt64(math.MaxUint64, errOverflow)
	require.ErrorIs(t, err, errOverflow)

	v, err := ToInt64(42, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("abc")), 3, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("abcd")), 3, errOverflow)
	require.ErrorIs(t, err, errOverflow)
}

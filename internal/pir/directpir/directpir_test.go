package directpir

import (
	"testing"

	"github.com/pung-project/pung/internal/pir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	var be Backend
	elements := [][]byte{
		[]byte("aaaa"),
		[]byte("bbbb"),
		[]byte("cccc"),
	}
	h, err := be.Setup(elements, 4, pir.GetAlpha(4), 1)
	require.NoError(t, err)

	for i, want := range elements {
		q, qnum, err := be.ClientQuery(h, i)
		require.NoError(t, err)
		ans, anum, err := be.ServerAnswer(h, q, qnum)
		require.NoError(t, err)
		got, err := be.ClientDecode(h, ans, anum)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestOutOfRange(t *testing.T) {
	var be Backend
	h, err := be.Setup([][]byte{[]byte("x")}, 1, 1, 1)
	require.NoError(t, err)

	_, _, err = be.ClientQuery(h, 5)
	assert.ErrorIs(t, err, pir.ErrOutOfRange)
}

package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenDeterministic(t *testing.T) {
	k := []byte("some-key-material-32-bytes-long!")
	a := Gen(k, 3, 7, 1, 0)
	b := Gen(k, 3, 7, 1, 0)
	assert.Equal(t, a, b, "gen_label must be a pure function of its inputs")
}

func TestGenSensitiveToEveryField(t *testing.T) {
	k := []byte("key")
	base := Gen(k, 1, 2, 3, 4)
	variants := []Label{
		Gen(k, 2, 2, 3, 4),
		Gen(k, 1, 3, 3, 4),
		Gen(k, 1, 2, 4, 4),
		Gen(k, 1, 2, 3, 5),
	}
	for i, v := range variants {
		assert.NotEqual(t, base, v, "variant %d should differ from base", i)
	}
}

func TestMarkerStrictlyIncreasing(t *testing.T) {
	for _, k := range []int{1, 2, 3, 7, 16, 100} {
		t.Run("", func(t *testing.T) {
			var prev uint32
			for i := 0; i < k; i++ {
				m := Marker(i, k)
				if i > 0 {
					assert.Greater(t, m, prev)
				}
				prev = m
			}
			assert.Equal(t, uint32(0xFFFFFFFF), Marker(k-1, k), "last marker must cover the full space")
		})
	}
}

func TestBucketCoverage(t *testing.T) {
	const k = 5
	// every possible prefix value must land in some bucket, and that
	// bucket assignment must be monotonic in the prefix.
	prefixes := []uint32{0, 1, Marker(0, k), Marker(0, k) + 1, Marker(2, k), 0xFFFFFFFF}
	var prevBucket = -1
	for _, p := range prefixes {
		var l Label
		l[0] = byte(p >> 24)
		l[1] = byte(p >> 16)
		l[2] = byte(p >> 8)
		l[3] = byte(p)
		b := BucketOf(l, k)
		require.GreaterOrEqual(t, b, 0)
		require.Less(t, b, k)
		assert.GreaterOrEqual(t, b, prevBucket)
		prevBucket = b
	}
}

func TestCompareIsBytewise(t *testing.T) {
	var a, b Label
	a[0] = 0x01
	b[0] = 0x02
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.Equal(t, 0, Compare(a, a))
}

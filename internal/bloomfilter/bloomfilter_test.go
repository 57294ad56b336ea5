package bloomfilter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoFalseNegatives(t *testing.T) {
	f := New(100)
	keys := make([][]byte, 100)
	for i := range keys {
		keys[i] = IndexLabelKey(uint64(i), []byte(fmt.Sprintf("label-%d", i)))
		f.Add(keys[i])
	}
	for i, k := range keys {
		assert.True(t, f.Test(k), "inserted key %d must always test positive", i)
	}
}

func TestFalsePositiveRateIsReasonable(t *testing.T) {
	const n = 2000
	f := New(n)
	for i := 0; i < n; i++ {
		f.Add(IndexLabelKey(uint64(i), []byte(fmt.Sprintf("in-%d", i))))
	}

	trials := 20000
	falsePositives := 0
	for i := 0; i < trials; i++ {
		if f.Test(IndexLabelKey(uint64(i), []byte(fmt.Sprintf("out-%d", i)))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	// The package targets 1e-5; allow generous slack since this is a
	// statistical property over a single sample, not an exact bound.
	assert.Less(t, rate, 0.01, "observed false-positive rate %v far exceeds target", rate)
}

func TestFromBytesRoundTrip(t *testing.T) {
	f := New(50)
	key := IndexFlagLabelKey(3, 1, []byte("hello"))
	f.Add(key)

	restored := FromBytes(f.Bytes())
	assert.True(t, restored.Test(key))
}

package bst

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ascending(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestLayoutInversion(t *testing.T) {
	for n := 0; n <= 32; n++ {
		t.Run("", func(t *testing.T) {
			sorted := ascending(n)
			laid := Layout(sorted)
			assert.Equal(t, sorted, InOrder(laid), "in-order traversal must recover the original sorted order for n=%d", n)
		})
	}
}

func TestLayoutRootIsIndexZero(t *testing.T) {
	// For a perfect tree of 7 (= 2^3 - 1) nodes, the root is the
	// exact middle element.
	sorted := ascending(7)
	laid := Layout(sorted)
	assert.Equal(t, 3, laid[0])
}

func TestBottomLeftIndexMatchesDescent(t *testing.T) {
	for n := 1; n <= 64; n++ {
		laid := Layout(ascending(n))
		idx := BottomLeftIndex(n)
		// following left children from the root must land exactly on idx
		i := 0
		for {
			left := LeftChild(i)
			if left >= n {
				break
			}
			i = left
		}
		assert.Equal(t, i, idx, "n=%d", n)
		assert.Equal(t, 0, laid[idx], "bottom-left element must be the smallest for n=%d", n)
	}
}

func TestLayoutIndicesMatchesLayout(t *testing.T) {
	for n := 0; n <= 32; n++ {
		perm := LayoutIndices(n)
		laid := Layout(ascending(n))
		assert.Equal(t, laid, perm, "n=%d", n)
	}
}

func TestHeight(t *testing.T) {
	assert.Equal(t, 0, Height(0))
	assert.Equal(t, 1, Height(1))
	assert.Equal(t, 2, Height(2))
	assert.Equal(t, 2, Height(3))
	assert.Equal(t, 3, Height(4))
	assert.Equal(t, 3, Height(7))
	assert.Equal(t, 4, Height(8))
}

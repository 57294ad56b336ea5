package collection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pung-project/pung/internal/bst"
	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/label"
	"github.com/pung-project/pung/internal/pir"
	"github.com/pung-project/pung/internal/pir/directpir"
	"github.com/pung-project/pung/internal/tuple"
)

func makeTuple(t *testing.T, prefix uint32, tail byte) tuple.Tuple {
	t.Helper()
	var l label.Label
	l[0] = byte(prefix >> 24)
	l[1] = byte(prefix >> 16)
	l[2] = byte(prefix >> 8)
	l[3] = byte(prefix)
	l[31] = tail
	cipher := make([]byte, tuple.CipherSize)
	mac := make([]byte, tuple.MACSize)
	cipher[0] = tail
	return tuple.New(l, cipher, mac)
}

func TestEncodeNormalExplicitRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 4
	db := New(cfg, directpir.Backend{})

	// land every tuple in bucket 0 by using the minimum possible prefix.
	for i := 0; i < 10; i++ {
		db.Ingest(makeTuple(t, 0, byte(i)))
	}
	require.NoError(t, db.Encode())

	shape := db.BucketShape(0)
	require.Len(t, shape.Sizes, 1)
	assert.EqualValues(t, 10, shape.Sizes[0])
	assert.Empty(t, shape.Lmids)

	var be directpir.Backend
	for i := 0; i < 10; i++ {
		q, qnum, err := be.ClientQuery(handleForTest(t, db, 0, 0, 0), i)
		require.NoError(t, err)
		ans, anum, err := db.Retrieve(0, 0, 0, q, qnum)
		require.NoError(t, err)
		got, err := be.ClientDecode(handleForTest(t, db, 0, 0, 0), ans, anum)
		require.NoError(t, err)
		var gotTuple tuple.Tuple
		copy(gotTuple[:], got)
		assert.Equal(t, byte(i), gotTuple.Ciphertext()[0])
	}
}

// handleForTest reaches into the database to fetch a collection's PIR
// handle, mirroring what a client would learn out of band (the shape
// and handle metadata a real PIR backend publishes at setup).
func handleForTest(t *testing.T, db *Database, bucket, col, level int) pir.Handle {
	t.Helper()
	b := db.buckets[bucket]
	return b.Collections[col].Levels[level]
}

func TestEncodeHybrid2ParityReconstructs(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 1
	cfg.Optimization = config.Hybrid2
	db := New(cfg, directpir.Backend{})

	for i := 0; i < 9; i++ {
		db.Ingest(makeTuple(t, 0, byte(i)))
	}
	require.NoError(t, db.Encode())

	b := db.buckets[0]
	require.Len(t, b.Collections, 3)
	c0, c1, c2 := b.Collections[0], b.Collections[1], b.Collections[2]
	require.Len(t, b.Lmids, 1)

	n := c0.Size()
	if c1.Size() < n {
		n = c1.Size()
	}
	for i := 0; i < n; i++ {
		want := tuple.XOR(c0.Tuples[i], c1.Tuples[i])
		assert.Equal(t, want, c2.Tuples[i], "C2[%d] must equal C0[%d] xor C1[%d]", i, i, i)
	}
	if c0.Size() > c1.Size() {
		assert.Equal(t, c0.Tuples[c0.Size()-1], c2.Tuples[c2.Size()-1])
	}
}

func TestEncodeHybrid4ParityPlan(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 1
	cfg.Optimization = config.Hybrid4
	db := New(cfg, directpir.Backend{})

	for i := 0; i < 20; i++ {
		db.Ingest(makeTuple(t, 0, byte(i)))
	}
	require.NoError(t, db.Encode())

	b := db.buckets[0]
	require.Len(t, b.Collections, 9)
	require.Len(t, b.Lmids, 3)

	c0, c1, c2, c3 := b.Collections[0], b.Collections[1], b.Collections[2], b.Collections[3]
	c4, c5, c6, c7, c8 := b.Collections[4], b.Collections[5], b.Collections[6], b.Collections[7], b.Collections[8]

	assertXORPrefix := func(a, c *Collection, want *Collection) {
		n := a.Size()
		if c.Size() < n {
			n = c.Size()
		}
		for i := 0; i < n; i++ {
			assert.Equal(t, tuple.XOR(a.Tuples[i], c.Tuples[i]), want.Tuples[i])
		}
	}
	assertXORPrefix(c0, c1, c4)
	assertXORPrefix(c2, c3, c5)
	assertXORPrefix(c0, c2, c6)
	assertXORPrefix(c1, c3, c7)
	assertXORPrefix(c6, c7, c8)
}

func TestEncodeTreeIsSearchable(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 1
	cfg.Retrieval = config.Tree
	db := New(cfg, directpir.Backend{})

	for i := 0; i < 15; i++ {
		db.Ingest(makeTuple(t, 0, byte(i)))
	}
	require.NoError(t, db.Encode())

	b := db.buckets[0]
	c := b.Collections[0]
	require.NotEmpty(t, c.Perm)
	restored := bst.InOrder(c.Tuples)
	for i := 1; i < len(restored); i++ {
		assert.True(t, tuple.Less(restored[i-1], restored[i]) || restored[i-1] == restored[i])
	}
	assert.Equal(t, len(restored), 15)
	assert.Equal(t, bst.Height(15), len(c.Levels))
}

func TestPaddingStaysInBucket(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 4
	cfg.Extra = 5
	db := New(cfg, directpir.Backend{})
	require.NoError(t, db.Encode())

	for i := range db.buckets {
		shape := db.BucketShape(i)
		assert.EqualValues(t, 5, shape.Sizes[0])
	}
}

func TestPIRLevelsPerRetryExplicit(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 8
	db := New(cfg, directpir.Backend{})
	require.NoError(t, db.Encode())
	assert.Equal(t, 8, db.PIRLevelsPerRetry())
}

func TestPIRLevelsPerRetryHybrid2(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 4
	cfg.Optimization = config.Hybrid2
	db := New(cfg, directpir.Backend{})
	require.NoError(t, db.Encode())
	assert.Equal(t, 4*3, db.PIRLevelsPerRetry())
}

package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/engine"
	"github.com/pung-project/pung/internal/pir/directpir"
	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/scheduler"
)

// TestHTTPLoopbackRoundTrip drives a full register/sync/send/retrieve
// cycle through the HTTP/JSON binding end to end — internal/scheduler
// talking to internal/rpc.HTTPChannel talking to this package's
// Server.Handler, fronting a real *engine.Engine — the same path
// cmd/pungclient drives against a live cmd/pungserver process.
func TestHTTPLoopbackRoundTrip(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 2
	cfg.MinMessages = 1

	eng, err := engine.New(cfg, directpir.Backend{}, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(eng).Handler())
	defer ts.Close()

	channel := rpc.NewHTTPChannel(ts.URL)
	sched := scheduler.New(cfg, directpir.Backend{}, channel, "a")

	var shared [32]byte
	shared[0] = 7
	sched.AddPeer("a", shared[:])

	_, err = sched.Register(2)
	require.NoError(t, err)

	round, err := sched.Sync()
	require.NoError(t, err)

	sched.QueueMessage("a", []byte("http"))
	_, err = sched.Send(round)
	require.NoError(t, err)

	received, err := sched.Retrieve(round, []string{"a"})
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "a", received[0].Peer)
	assert.Equal(t, []byte("http"), received[0].Plaintext[:4])
}

// TestHTTPUnknownIDSurfacesAsRPCError confirms a protocol error crosses
// the HTTP boundary as a typed *rpc.Error, not a generic HTTP failure.
func TestHTTPUnknownIDSurfacesAsRPCError(t *testing.T) {
	cfg := config.Default()
	cfg.NumBuckets = 1

	eng, err := engine.New(cfg, directpir.Backend{}, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(eng).Handler())
	defer ts.Close()

	channel := rpc.NewHTTPChannel(ts.URL)
	_, err = channel.Sync(999)
	require.Error(t, err)

	rerr, ok := err.(*rpc.Error)
	require.True(t, ok, "expected *rpc.Error, got %T", err)
	assert.Equal(t, rpc.CodeUnknownID, rerr.Code)
}

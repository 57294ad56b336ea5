// Command pungclient is a CLI demo exercising one Pung client's
// register/sync/send/retrieve cycle against a cmd/pungserver instance,
// following keysaver-server/main.go's flag-parsing shape.
package main

import (
	"encoding/hex"
	"flag"
	"log"
	"strings"

	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/pir/directpir"
	"github.com/pung-project/pung/internal/rpc"
	"github.com/pung-project/pung/internal/scheduler"
)

func main() {
	var (
		server     string
		self       string
		peerSpec   string
		message    string
		rate       uint
		retrieval  string
		optim      string
		numBuckets int
		pirDepth   int
		rounds     int
	)

	flag.StringVar(&server, "server", "http://localhost:8787", "pungserver base URL")
	flag.StringVar(&self, "self", "", "this client's peer name (required)")
	flag.StringVar(&peerSpec, "peer", "", "peer_name:shared_secret_hex (required, repeatable via comma)")
	flag.StringVar(&message, "message", "", "plaintext to send to the first peer, if any")
	flag.UintVar(&rate, "rate", 4, "registered send/retrieve rate")
	flag.StringVar(&retrieval, "retrieval", "explicit", "retrieval scheme: explicit|bloom|tree")
	flag.StringVar(&optim, "optimization", "normal", "optimization scheme: normal|aliasing|hybrid2|hybrid4")
	flag.IntVar(&numBuckets, "buckets", 16, "number of label-space buckets, must match the server")
	flag.IntVar(&pirDepth, "pir-depth", 1, "PIR recursion depth, must match the server")
	flag.IntVar(&rounds, "rounds", 1, "number of send/retrieve cycles to run")
	flag.Parse()

	if self == "" || peerSpec == "" {
		log.Fatal("-self and -peer are required")
	}

	cfg := config.Default()
	switch retrieval {
	case "explicit":
		cfg.Retrieval = config.Explicit
	case "bloom":
		cfg.Retrieval = config.Bloom
	case "tree":
		cfg.Retrieval = config.Tree
	default:
		log.Fatalf("unknown -retrieval %q", retrieval)
	}
	switch optim {
	case "normal":
		cfg.Optimization = config.Normal
	case "aliasing":
		cfg.Optimization = config.Aliasing
	case "hybrid2":
		cfg.Optimization = config.Hybrid2
	case "hybrid4":
		cfg.Optimization = config.Hybrid4
	default:
		log.Fatalf("unknown -optimization %q", optim)
	}
	cfg.NumBuckets = numBuckets
	cfg.PIRDepth = pirDepth
	if err := cfg.Validate(); err != nil {
		log.Fatalf("bad config: %v", err)
	}

	channel := rpc.NewHTTPChannel(server)
	sched := scheduler.New(cfg, directpir.Backend{}, channel, self)

	peerNames := make([]string, 0, 4)
	for _, spec := range strings.Split(peerSpec, ",") {
		name, secretHex, ok := strings.Cut(spec, ":")
		if !ok {
			log.Fatalf("bad -peer entry %q, want name:hex", spec)
		}
		shared, err := hex.DecodeString(secretHex)
		if err != nil {
			log.Fatalf("bad shared secret for peer %q: %v", name, err)
		}
		sched.AddPeer(name, shared)
		peerNames = append(peerNames, name)
	}

	id, err := sched.Register(uint32(rate))
	if err != nil {
		log.Fatalf("register: %v", err)
	}
	log.Printf("[client] registered id=%d rate=%d", id, rate)

	if message != "" {
		sched.QueueMessage(peerNames[0], []byte(message))
		log.Printf("[client] queued message for %s", peerNames[0])
	}

	for i := 0; i < rounds; i++ {
		round, err := sched.Sync()
		if err != nil {
			log.Fatalf("sync: %v", err)
		}
		log.Printf("[client] round %d: syncing into round %d", i, round)

		if _, err := sched.Send(round); err != nil {
			log.Fatalf("send: %v", err)
		}

		received, err := sched.Retrieve(round, peerNames)
		if err != nil {
			log.Fatalf("retrieve: %v", err)
		}
		for _, r := range received {
			log.Printf("[client] received from %s: %q", r.Peer, trimZeroPad(r.Plaintext))
		}
		if len(received) == 0 {
			log.Printf("[client] round %d: nothing recovered", round)
		}
	}

	if err := sched.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
	log.Printf("[client] closed id=%d", id)
}

// trimZeroPad strips the trailing zero padding Encrypt adds up to
// tuple.CipherSize, for display only — the wire plaintext itself stays
// the full padded length (spec.md §3 example scenario A).
func trimZeroPad(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}

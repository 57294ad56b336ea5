// Command pungserver runs a single Pung round engine behind an
// HTTP/JSON binding of internal/rpc.Channel (spec.md §6), following
// keysaver-server/main.go's flag-then-serve shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/pung-project/pung/internal/config"
	"github.com/pung-project/pung/internal/engine"
	"github.com/pung-project/pung/internal/pir/directpir"
	"github.com/pung-project/pung/internal/registry"
)

func main() {
	var (
		port       int
		dbPath     string
		retrieval  string
		optim      string
		numBuckets int
		pirDepth   int
		extra      uint64
		minMsgs    uint64
	)

	flag.IntVar(&port, "port", 8787, "HTTP server port")
	flag.StringVar(&dbPath, "db", "pung-registry.db", "sqlite path for the client registry")
	flag.StringVar(&retrieval, "retrieval", "explicit", "retrieval scheme: explicit|bloom|tree")
	flag.StringVar(&optim, "optimization", "normal", "optimization scheme: normal|aliasing|hybrid2|hybrid4")
	flag.IntVar(&numBuckets, "buckets", 16, "number of label-space buckets")
	flag.IntVar(&pirDepth, "pir-depth", 1, "PIR recursion depth (1 or 2)")
	flag.Uint64Var(&extra, "extra", 0, "padding tuples appended per bucket at encode time")
	flag.Uint64Var(&minMsgs, "min-messages", 0, "minimum tuples received before a round may advance")
	flag.Parse()

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
	cfg.Extra = extra
	cfg.MinMessages = minMsgs

	if v := os.Getenv("PUNG_PHASE_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("bad PUNG_PHASE_DEADLINE: %v", err)
		}
		cfg.PhaseDeadline = d
	}

	reg, err := registry.Open(dbPath)
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()
	log.Printf("[registry] opened at %s", dbPath)

	eng, err := engine.New(cfg, directpir.Backend{}, reg)
	if err != nil {
		log.Fatalf("create engine: %v", err)
	}
	if cfg.PhaseDeadline > 0 {
		eng.StartDeadlineSweeper(cfg.PhaseDeadline / 4)
	}

	srv := NewServer(eng)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("[server] retrieval=%s optimization=%s buckets=%d pir_depth=%d",
		cfg.Retrieval, cfg.Optimization, cfg.NumBuckets, cfg.PIRDepth)
	log.Printf("[server] starting HTTP server on :%d", port)
	if err := httpSrv.ListenAndServe(); err != nil {
		log.Fatalf("HTTP server error: %v", err)
	}
}

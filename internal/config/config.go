// Package config holds Pung's fixed-at-boot configuration: retrieval
// scheme, optimization scheme, bucket count, PIR depth, padding, and
// round-advance thresholds (spec.md §6). Grounded on the teacher's
// go-node/config.go defaultConfig() and keysaver-server/config.go
// env-var loading.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"time"
)

// RetrievalScheme selects how a client locates a label within a
// collection (spec.md §2, §4.8).
type RetrievalScheme int

const (
	Explicit RetrievalScheme = iota
	Bloom
	Tree
)

func (s RetrievalScheme) String() string {
	switch s {
	case Explicit:
		return "explicit"
	case Bloom:
		return "bloom"
	case Tree:
		return "tree"
	default:
		return fmt.Sprintf("RetrievalScheme(%d)", int(s))
	}
}

// OptimizationScheme selects the bucket's batch-code shape (spec.md §3).
type OptimizationScheme int

const (
	Normal OptimizationScheme = iota
	Aliasing
	Hybrid2
	Hybrid4
)

func (s OptimizationScheme) String() string {
	switch s {
	case Normal:
		return "normal"
	case Aliasing:
		return "aliasing"
	case Hybrid2:
		return "hybrid2"
	case Hybrid4:
		return "hybrid4"
	default:
		return fmt.Sprintf("OptimizationScheme(%d)", int(s))
	}
}

// UsesAliasing reports whether the scheme stores each send under two
// labels in two distinct buckets (spec.md §4.4).
func (s OptimizationScheme) UsesAliasing() bool {
	return s == Aliasing || s == Hybrid2 || s == Hybrid4
}

// NumCollections returns the fixed number of collections a bucket has
// under this optimization scheme (spec.md §3): 1 for Normal/Aliasing,
// 3 for Hybrid2 (2 systematic + 1 parity), 9 for Hybrid4 (4 systematic
// + 5 parity).
func (s OptimizationScheme) NumCollections() int {
	switch s {
	case Normal, Aliasing:
		return 1
	case Hybrid2:
		return 3
	case Hybrid4:
		return 9
	default:
		panic("config: unknown optimization scheme")
	}
}

// NumSystematic returns how many of a bucket's collections hold
// message tuples directly rather than XOR parities.
func (s OptimizationScheme) NumSystematic() int {
	switch s {
	case Normal, Aliasing:
		return 1
	case Hybrid2:
		return 2
	case Hybrid4:
		return 4
	default:
		panic("config: unknown optimization scheme")
	}
}

// NumLmids returns how many midpoint labels (spec.md §4.6) this scheme
// publishes per bucket: routing between systematic collections is only
// needed once there's more than one of them.
func (s OptimizationScheme) NumLmids() int {
	switch s {
	case Normal, Aliasing:
		return 0
	case Hybrid2:
		return 1
	case Hybrid4:
		return 3
	default:
		panic("config: unknown optimization scheme")
	}
}

// Config is the fixed-at-boot server configuration (spec.md §6).
type Config struct {
	Retrieval    RetrievalScheme
	Optimization OptimizationScheme

	// NumBuckets is the number of label-space partitions (spec.md §4.1).
	NumBuckets int

	// PIRDepth controls the external PIR primitive's recursion depth,
	// in {1, 2} (spec.md §6).
	PIRDepth int

	// Extra is the padding-tuple count appended to every bucket at
	// encode time (spec.md §4.9, SPEC_FULL.md §4). Mutable at runtime
	// via change_extra; effective from the next encode boundary.
	Extra uint64

	// MinMessages is the minimum total tuples received in a round
	// before the round may close (spec.md §4.9).
	MinMessages uint64

	// PhaseDeadline, if nonzero, zeroes the remaining phase quota of any
	// client that has not reached quota zero within this long after the
	// phase began, so the phase can close; the client stays registered
	// (SPEC_FULL.md §4, spec.md §9's production SHOULD). Zero disables
	// the deadline, preserving spec.md's base no-timeout semantics.
	PhaseDeadline time.Duration
}

// Default returns Pung's baseline configuration: Explicit retrieval,
// Normal optimization, 16 buckets, PIR depth 1, no padding, and no
// minimum-message threshold.
func Default() Config {
	return Config{
		Retrieval:    Explicit,
		Optimization: Normal,
		NumBuckets:   16,
		PIRDepth:     1,
		Extra:        0,
		MinMessages:  0,
	}
}

// FromEnv overlays Default() with PUNG_* environment variables,
// mirroring the teacher's env-var configuration loading in
// keysaver-server/config.go and go-node/config.go.
func FromEnv() (Config, error) {
	c := Default()

	if v := os.Getenv("PUNG_RETRIEVAL"); v != "" {
		switch v {
		case "explicit":
			c.Retrieval = Explicit
		case "bloom":
			c.Retrieval = Bloom
		case "tree":
			c.Retrieval = Tree
		default:
			return c, fmt.Errorf("config: unknown PUNG_RETRIEVAL %q", v)
		}
	}
	if v := os.Getenv("PUNG_OPTIMIZATION"); v != "" {
		switch v {
		case "normal":
			c.Optimization = Normal
		case "aliasing":
			c.Optimization = Aliasing
		case "hybrid2":
			c.Optimization = Hybrid2
		case "hybrid4":
			c.Optimization = Hybrid4
		default:
			return c, fmt.Errorf("config: unknown PUNG_OPTIMIZATION %q", v)
		}
	}
	if err := overlayInt(&c.NumBuckets, "PUNG_NUM_BUCKETS"); err != nil {
		return c, err
	}
	if err := overlayInt(&c.PIRDepth, "PUNG_PIR_DEPTH"); err != nil {
		return c, err
	}
	if err := overlayUint64(&c.Extra, "PUNG_EXTRA"); err != nil {
		return c, err
	}
	if err := overlayUint64(&c.MinMessages, "PUNG_MIN_MESSAGES"); err != nil {
		return c, err
	}
	if v := os.Getenv("PUNG_PHASE_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("config: bad PUNG_PHASE_DEADLINE: %w", err)
		}
		c.PhaseDeadline = d
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate checks a Config for internal consistency, beyond what
// FromEnv's field-by-field parsing already guarantees.
func (c Config) Validate() error {
	if c.NumBuckets <= 0 {
		return fmt.Errorf("config: NumBuckets must be positive")
	}
	if c.PIRDepth != 1 && c.PIRDepth != 2 {
		return fmt.Errorf("config: PIRDepth must be 1 or 2")
	}
	// Hybrid2's joint tree descent reconstructs one systematic
	// collection's tuple from the other two collections' BST levels
	// without a second direct probe, so it composes with Tree mode
	// (internal/scheduler/hybrid_retrieve.go's hybrid2TreeSweep).
	// Hybrid4 has no such joint-descent path for its nine collections
	// under Tree mode; spec.md §9 sanctions refusing that specific
	// combination outright rather than inventing one.
	if c.Retrieval == Tree && c.Optimization == Hybrid4 {
		return fmt.Errorf("config: %s retrieval does not support %s optimization", c.Retrieval, c.Optimization)
	}
	return nil
}

// Retries returns the number of bucket sweeps a client with retrieve
// rate k performs under optimization scheme s, chosen so that with
// high probability every real label lands in some retry slot (spec.md
// §4.7). Both the client scheduler and the server's round-advance
// computation of ret_remaining call this with the same k, so they
// agree on the total without it ever crossing the wire.
func (s OptimizationScheme) Retries(k uint64) uint64 {
	switch s {
	case Normal:
		if k < 9 {
			return k
		}
		kf := float64(k)
		return uint64(math.Ceil(3 * math.Log(kf) / math.Log(math.Log(kf))))
	case Aliasing:
		if k < 3 {
			return k
		}
		kf := float64(k)
		return uint64(math.Ceil(math.Log(math.Log(kf))/math.Log(2))) + 1
	case Hybrid2:
		aliasing := Aliasing.Retries(k)
		return uint64(math.Ceil(float64(aliasing) / 2))
	case Hybrid4:
		return 1
	default:
		panic("config: unknown optimization scheme")
	}
}

func overlayInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: bad %s: %w", env, err)
	}
	*dst = n
	return nil
}

func overlayUint64(dst *uint64, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("config: bad %s: %w", env, err)
	}
	*dst = n
	return nil
}

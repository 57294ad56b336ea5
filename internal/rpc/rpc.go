// Package rpc defines Pung's external interface (spec.md §6): the wire
// request/result shapes for the eight core operations and an abstract
// Channel a transport binds against. internal/engine implements
// Channel directly; cmd/pungserver exposes it over HTTP/JSON and
// cmd/pungclient (via internal/scheduler) calls it, in-process or over
// that HTTP binding, the same way either time.
package rpc

import "fmt"

// Error is a typed protocol error carrying one of the stable codes
// spec.md §7 requires error responses to be distinguishable by.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an *Error with the given stable code.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Stable error codes, per spec.md §6/§7.
const (
	CodeUnknownID    = "unknown_id"
	CodeStaleRound   = "stale_round"
	CodeWrongPhase   = "wrong_phase"
	CodeRateExceeded = "rate_exceeded"
	CodeQuotaZero    = "quota_zero"
	CodeOutOfRange   = "out_of_range"
	CodeEmptyAnswer  = "empty_answer"
)

// BucketShape is one bucket's entry in a SendResult: the size of each
// systematic collection and the published Lmids. spec.md §6 names a
// single num:u64 per bucket; this generalizes it to one size per
// systematic collection since Hybrid2/Hybrid4 buckets have more than
// one.
type BucketShape struct {
	Nums  []uint64
	Lmids [][]byte
}

// SendResult is send's reply: the current shape of every bucket, as of
// whichever encode last ran. A client that has exhausted its send
// quota may call Send again with an empty tuple list purely to poll
// this — legal because sending zero tuples never exceeds a quota
// (the "send as shape poll" decision recorded in DESIGN.md).
type SendResult struct {
	Buckets []BucketShape
}

// RetrieveRequest is retr's request (spec.md §6).
type RetrieveRequest struct {
	ID         uint64
	Round      uint64
	Bucket     uint32
	Collection uint32
	Level      uint32
	Query      []byte
	QNum       uint64
}

// RetrieveResult is retr's reply.
type RetrieveResult struct {
	Answer []byte
	ANum   uint64
}

// MappingResult is get_mapping's reply: for every bucket, for every
// systematic collection of that bucket (in collection order), the
// list of label bytes in that collection's current order.
type MappingResult struct {
	Buckets [][][][]byte
}

// BloomResult is get_bloom's reply: for every bucket, for every
// systematic collection, its Bloom bit-vector bytes and its element
// count (needed by the client's 0..n-1 scan — an addition to spec.md
// §6's literal table, since a Bloom filter's byte length alone only
// bounds m, not n).
type BloomResult struct {
	Blooms [][][]byte
	Nums   [][]uint64
}

// Channel is the abstract request/reply surface spec.md §6 specifies.
// internal/engine.Engine implements it directly for in-process use;
// cmd/pungserver wraps the same methods in an HTTP/JSON handler.
type Channel interface {
	Register(rate uint32) (id uint64, err error)
	Sync(id uint64) (round uint64, err error)
	Close(id uint64) error
	ChangeExtra(n uint64) error
	Send(id, round uint64, tuples [][]byte) (SendResult, error)
	Retrieve(req RetrieveRequest) (RetrieveResult, error)
	GetMapping(round uint64) (MappingResult, error)
	GetBloom(round uint64) (BloomResult, error)
}

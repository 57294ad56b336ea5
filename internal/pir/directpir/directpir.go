// Package directpir is a reference PIR backend that satisfies
// pir.Backend's interface contract without implementing any actual
// private-information-retrieval cryptography. It exists to make the
// core's scenarios runnable end to end (spec.md §8) and for unit
// tests; it provides none of the indistinguishability properties
// spec.md §6 requires of a real backend, and must never be used
// outside tests and local demos. The real single-server computational
// PIR primitive is an external collaborator (spec.md §1) this repo
// does not implement.
package directpir

import (
	"encoding/binary"

	"github.com/pung-project/pung/internal/pir"
)

type handle struct {
	elementSize int
	elements    [][]byte
}

func (h *handle) ElementSize() int { return h.elementSize }
func (h *handle) NumElements() int { return len(h.elements) }

// Backend implements pir.Backend by direct array indexing.
type Backend struct{}

var _ pir.Backend = Backend{}

// Setup stores elements verbatim; alpha and depth are accepted for
// interface compatibility but unused by this non-private stand-in.
func (Backend) Setup(elements [][]byte, elementSize, alpha, depth int) (pir.Handle, error) {
	for _, e := range elements {
		if len(e) != elementSize {
			panic("directpir: element size mismatch at setup")
		}
	}
	cp := make([][]byte, len(elements))
	copy(cp, elements)
	return &handle{elementSize: elementSize, elements: cp}, nil
}

// ClientQuery encodes the index directly — there is nothing private
// about this query.
func (Backend) ClientQuery(h pir.Handle, index int) ([]byte, uint64, error) {
	hh := h.(*handle)
	if index < 0 || index >= len(hh.elements) {
		return nil, 0, pir.ErrOutOfRange
	}
	query := make([]byte, 8)
	binary.BigEndian.PutUint64(query, uint64(index))
	return query, 1, nil
}

// ServerAnswer looks the index up directly and returns the element.
func (Backend) ServerAnswer(h pir.Handle, query []byte, qnum uint64) ([]byte, uint64, error) {
	hh := h.(*handle)
	if len(query) != 8 {
		return nil, 0, pir.ErrEmptyAnswer
	}
	idx := int(binary.BigEndian.Uint64(query))
	if idx < 0 || idx >= len(hh.elements) {
		return nil, 0, pir.ErrOutOfRange
	}
	answer := make([]byte, hh.elementSize)
	copy(answer, hh.elements[idx])
	return answer, 1, nil
}

// ClientDecode is the identity function: ServerAnswer already returned
// the plain element bytes.
func (Backend) ClientDecode(h pir.Handle, answer []byte, anum uint64) ([]byte, error) {
	if anum == 0 || len(answer) == 0 {
		return nil, pir.ErrEmptyAnswer
	}
	return answer, nil
}

// Package object implements the class/instance object model on top of the
// heap package's storage: C3 linearization, attribute lookup order, the
// descriptor protocol, and dunder-dispatch table construction. Grounded
// on the teacher's class/interface resolution machinery (compiler's trait
// and interface linearization in compiler.go's class-declaration handling)
// generalized to full C3 MRO, since the guest language here supports
// general multiple inheritance rather than single-inheritance-plus-traits.
package object

import (
	"fmt"

	"github.com/wudi/serpent/heap"
)

// Linearize computes the C3 MRO for a class given its already-linearized
// bases (self first in each base's own MRO) plus the declaration-order
// list of direct bases. Returns an error if no consistent linearization
// exists (spec §3.2 "MRO": "a conflicting base order is a class
// definition error").
func Linearize(self *heap.Slot, bases []*heap.Slot) ([]*heap.Slot, error) {
	if len(bases) == 0 {
		return []*heap.Slot{self}, nil
	}

	sequences := make([][]*heap.Slot, 0, len(bases)+1)
	for _, b := range bases {
		bc := classOf(b)
		sequences = append(sequences, append([]*heap.Slot{}, bc.MRO...))
	}
	sequences = append(sequences, append([]*heap.Slot{}, bases...))

	var merged []*heap.Slot
	for {
		sequences = dropEmpty(sequences)
		if len(sequences) == 0 {
			break
		}
		var head *heap.Slot
		for _, seq := range sequences {
			candidate := seq[0]
			if !appearsInTail(candidate, sequences) {
				head = candidate
				break
			}
		}
		if head == nil {
			return nil, fmt.Errorf("inconsistent method resolution order for class %q", classOf(self).Name)
		}
		merged = append(merged, head)
		for i, seq := range sequences {
			sequences[i] = removeHead(seq, head)
		}
	}
	return append([]*heap.Slot{self}, merged...), nil
}

func classOf(s *heap.Slot) *heap.Class {
	return s.Payload().(*heap.Class)
}

func dropEmpty(seqs [][]*heap.Slot) [][]*heap.Slot {
	out := seqs[:0]
	for _, s := range seqs {
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func appearsInTail(candidate *heap.Slot, seqs [][]*heap.Slot) bool {
	for _, seq := range seqs {
		for _, s := range seq[1:] {
			if s == candidate {
				return true
			}
		}
	}
	return false
}

func removeHead(seq []*heap.Slot, head *heap.Slot) []*heap.Slot {
	if len(seq) > 0 && seq[0] == head {
		return seq[1:]
	}
	return seq
}

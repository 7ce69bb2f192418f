package state

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/PentesterFlow/apimap/internal/endpoint"
)

// falsePositiveRate sizes the filter; a positive is always confirmed
// against the exact set.
const falsePositiveRate = 0.001

// CallSiteSet remembers which call sites the aggregator has already
// emitted. Two definitions are the same call site when their keys agree
// (file, line span, column and raw template).
//
// A filter negative is answered without touching the exact set, which is
// only materialized the first time the filter reports a positive. A run
// without duplicates never builds it. A CallSiteSet is not safe for
// concurrent use.
type CallSiteSet struct {
	filter *bloom.BloomFilter
	keys   []string
	exact  map[string]struct{}
}

// NewCallSiteSet creates a set sized for about expected call sites.
func NewCallSiteSet(expected int) *CallSiteSet {
	if expected < 1000 {
		expected = 1000
	}
	return &CallSiteSet{
		filter: bloom.NewWithEstimates(uint(expected), falsePositiveRate),
		keys:   make([]string, 0, expected),
	}
}

// Add records def and reports whether its call site was new.
func (s *CallSiteSet) Add(def endpoint.Definition) bool {
	key := def.Key()
	if s.filter.TestString(key) && s.confirm(key) {
		return false
	}
	s.filter.AddString(key)
	s.keys = append(s.keys, key)
	if s.exact != nil {
		s.exact[key] = struct{}{}
	}
	return true
}

// Contains reports whether def's call site has been added.
func (s *CallSiteSet) Contains(def endpoint.Definition) bool {
	key := def.Key()
	return s.filter.TestString(key) && s.confirm(key)
}

// Len returns the number of distinct call sites.
func (s *CallSiteSet) Len() int {
	return len(s.keys)
}

func (s *CallSiteSet) confirm(key string) bool {
	if s.exact == nil {
		s.exact = make(map[string]struct{}, len(s.keys))
		for _, k := range s.keys {
			s.exact[k] = struct{}{}
		}
	}
	_, ok := s.exact[key]
	return ok
}

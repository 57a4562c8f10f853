// Package msgid generates message identifiers derived from creation time.
// IDs are 63-bit integers packing milliseconds-since-epoch, a source number,
// and a per-millisecond sequence, rendered as decimal strings on the wire.
// IDs from one Source are strictly increasing, so log order and ID order
// agree for messages stamped by the same relay.
package msgid

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	sourceBits       = 10
	seqBits          = 12
	sourceMax        = -1 ^ (-1 << sourceBits)
	seqMask          = -1 ^ (-1 << seqBits)
	timeShift        = sourceBits + seqBits
	sourceShift      = seqBits
	epochMilli int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

// Source stamps identifiers. Safe for concurrent use.
type Source struct {
	mu     sync.Mutex
	last   int64
	source int64
	seq    int64
}

// New returns a Source with the given source number. Each concurrently
// running stamper needs a distinct number for IDs to stay globally unique;
// a single-relay deployment can use 0.
func New(source int64) (*Source, error) {
	if source < 0 || source > sourceMax {
		return nil, errors.New("msgid: source number out of range")
	}
	return &Source{source: source}, nil
}

// Next returns the next identifier.
func (s *Source) Next() string {
	return strconv.FormatInt(s.next(), 10)
}

func (s *Source) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.last {
		// Clock moved backwards; hold at the last stamped millisecond so
		// IDs stay monotonic.
		now = s.last
	}

	if now == s.last {
		s.seq = (s.seq + 1) & seqMask
		if s.seq == 0 {
			for now <= s.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.seq = 0
	}
	s.last = now

	return ((now - epochMilli) << timeShift) | (s.source << sourceShift) | s.seq
}

// Package stream reassembles the scale's line-oriented text protocol from
// fragmented byte deliveries.
package stream

import (
	"bytes"
	"strings"
)

// Reassembler accumulates raw characteristic deliveries and emits discrete
// trimmed text lines. It is not safe for concurrent use; the session feeds
// it exclusively from its event loop, preserving arrival order.
type Reassembler struct {
	buf  []byte
	emit func(line string)
}

// New creates a Reassembler that calls emit for every extracted non-empty
// line.
func New(emit func(line string)) *Reassembler {
	return &Reassembler{emit: emit}
}

// Feed appends p to the buffer and extracts every complete line.
//
// Extraction runs as two passes over the buffer: all line-feed-terminated
// prefixes first, then all carriage-return-terminated prefixes. The pass
// order is part of the protocol's observed behavior (a CR that precedes an
// LF in the buffer is consumed as part of the LF-terminated line, not as
// its own delimiter). Each extracted prefix includes its delimiter and is
// discarded from the buffer whether or not it emits; only lines that are
// non-empty after trimming surrounding whitespace are emitted.
//
// There is no upper bound on the buffer: a peer that never sends a
// delimiter grows it indefinitely. Pending exposes the current size.
func (r *Reassembler) Feed(p []byte) {
	r.buf = append(r.buf, p...)
	r.drain('\n')
	r.drain('\r')
}

// Pending returns the number of buffered bytes awaiting a delimiter.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset discards any buffered bytes. Called when a connection ends so a
// partial line never leaks into the next session.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

func (r *Reassembler) drain(delim byte) {
	for {
		i := bytes.IndexByte(r.buf, delim)
		if i < 0 {
			return
		}
		line := strings.TrimSpace(string(r.buf[:i+1]))
		r.buf = r.buf[i+1:]
		if line != "" {
			r.emit(line)
		}
	}
}

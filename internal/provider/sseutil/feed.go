package sseutil

import (
	"bytes"
	"strings"
)

// Feed is a push-mode SSE parser. The streaming proxy tees upstream bytes
// into a Feed while relaying them to the client; the Feed reassembles lines
// across arbitrary chunk boundaries and dispatches complete data payloads
// together with the preceding event name.
//
// Parsing is best-effort: oversized lines are dropped rather than buffered
// without bound, and the Feed never returns an error from Write, so a
// malformed stream can never stall forwarding.
type Feed struct {
	onData   func(event, data string)
	buf      bytes.Buffer
	event    string
	overflow bool
}

// NewFeed returns a Feed that calls onData for every complete data line.
func NewFeed(onData func(event, data string)) *Feed {
	return &Feed{onData: onData}
}

// Write consumes a chunk of the upstream byte stream. It always reports the
// full chunk as written.
func (f *Feed) Write(p []byte) (int, error) {
	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		f.buf.Write(rest[:i])
		rest = rest[i+1:]
		f.dispatchLine()
	}
	if f.buf.Len()+len(rest) > maxLineSize {
		// Oversized line: drop it and everything until the next newline.
		f.buf.Reset()
		f.overflow = true
	} else {
		f.buf.Write(rest)
	}
	return len(p), nil
}

// Close flushes a trailing unterminated line (streams that end without a
// final newline still get their last payload parsed).
func (f *Feed) Close() {
	if f.buf.Len() > 0 {
		f.dispatchLine()
	}
}

func (f *Feed) dispatchLine() {
	line := strings.TrimSuffix(f.buf.String(), "\r")
	f.buf.Reset()
	if f.overflow {
		f.overflow = false
		return
	}
	if line == "" {
		f.event = ""
		return
	}

	event, data, ok := ParseLine(line)
	if !ok {
		// Some upstreams stream bare JSON objects without a "data:" prefix.
		if line[0] == '{' || line[0] == '[' {
			f.onData(f.event, line)
			f.event = ""
		}
		return
	}
	if event != "" {
		f.event = event
		return
	}
	f.onData(f.event, data)
	f.event = ""
}

// Package terminal implements the terminal session engine: escape filtering,
// output buffering, pseudo-terminal sessions with a background drain loop,
// and the session registry.
package terminal

import (
	"bytes"
	"regexp"
)

// maxPendingSequence caps how many bytes the filter will hold back waiting
// for an escape sequence terminator. Anything longer is passed through
// unfiltered rather than withheld indefinitely.
const maxPendingSequence = 4096

const esc = 0x1b

// csiJunk is the policy table of CSI sequences treated as terminal protocol
// noise rather than content: capability query responses and the mode chatter
// shells emit on startup. The table is deliberately explicit; any CSI
// sequence not matched here passes through untouched, so color, style, and
// cursor movement survive for interactive applications.
var csiJunk = []*regexp.Regexp{
	// Device attribute responses: ESC [ ? 61;6;...;42 c and ESC [ > ... c
	regexp.MustCompile(`^\x1b\[\?[0-9;]+c$`),
	regexp.MustCompile(`^\x1b\[>[0-9;]*c$`),
	// Cursor position report round trips: ESC [ row ; col R
	regexp.MustCompile(`^\x1b\[[0-9]+;[0-9]+R$`),
	// Private mode set/reset noise: cursor keys, cursor visibility, mouse
	// tracking, alternate screen, bracketed paste.
	regexp.MustCompile(`^\x1b\[\?(?:1|25|1000|1002|1003|1006|1049|2004)[hl]$`),
	// Cursor save/restore (ANSI.SYS style).
	regexp.MustCompile(`^\x1b\[[su]$`),
}

// strayControl marks lone control bytes dropped from plain text.
var strayControl = [256]bool{
	0x17: true, // ETB
	0x18: true, // CAN
	0x1c: true, // FS
}

// Filter strips terminal query/acknowledgement noise from raw pseudo-terminal
// output. It is stateless across calls except for a pending tail: a chunk
// ending mid-sequence is held back and re-examined with the next chunk, so a
// sequence split at any byte boundary classifies the same as one delivered
// whole. Not safe for concurrent use; each drain loop owns its own Filter.
type Filter struct {
	pending []byte
}

// NewFilter creates an escape filter with an empty pending tail.
func NewFilter() *Filter {
	return &Filter{}
}

// Filter cleans one chunk of raw output and returns the printable result.
func (f *Filter) Filter(chunk []byte) string {
	data := chunk
	if len(f.pending) > 0 {
		data = append(f.pending, chunk...)
		f.pending = nil
	}

	var out bytes.Buffer
	i := 0
	for i < len(data) {
		b := data[i]
		if b != esc {
			if !strayControl[b] {
				out.WriteByte(b)
			}
			i++
			continue
		}

		seqLen, complete := scanEscape(data[i:])
		if !complete {
			if len(data)-i <= maxPendingSequence {
				f.pending = append(f.pending, data[i:]...)
				return out.String()
			}
			// Oversized unterminated sequence: fail open.
			out.Write(data[i:])
			return out.String()
		}

		seq := data[i : i+seqLen]
		if !dropSequence(seq) {
			out.Write(seq)
		}
		i += seqLen
	}
	return out.String()
}

// Flush returns any held-back incomplete tail. Called when the stream ends so
// the final bytes are delivered rather than silently retained (fail open).
func (f *Filter) Flush() string {
	if len(f.pending) == 0 {
		return ""
	}
	tail := string(f.pending)
	f.pending = nil
	return tail
}

// scanEscape reports the length of the escape sequence starting at p[0] (which
// must be ESC), and whether the sequence is complete within p.
func scanEscape(p []byte) (int, bool) {
	if len(p) < 2 {
		return 0, false
	}
	switch p[1] {
	case '[': // CSI: parameter/intermediate bytes 0x20-0x3f, final byte 0x40-0x7e
		for j := 2; j < len(p); j++ {
			if p[j] >= 0x40 && p[j] <= 0x7e {
				return j + 1, true
			}
			if p[j] < 0x20 || p[j] > 0x3f {
				// Malformed; treat everything up to here as the sequence.
				return j + 1, true
			}
		}
		return 0, false
	case ']': // OSC: terminated by BEL or ST (ESC \)
		for j := 2; j < len(p); j++ {
			if p[j] == 0x07 {
				return j + 1, true
			}
			if p[j] == esc {
				if j+1 < len(p) {
					if p[j+1] == '\\' {
						return j + 2, true
					}
					// Interrupted by another sequence; end the OSC here.
					return j, true
				}
				return 0, false
			}
		}
		return 0, false
	case 'P', 'X', '^', '_': // DCS, SOS, PM, APC: terminated by ST
		for j := 2; j < len(p); j++ {
			if p[j] == esc {
				if j+1 < len(p) {
					if p[j+1] == '\\' {
						return j + 2, true
					}
					return j, true
				}
				return 0, false
			}
		}
		return 0, false
	default:
		// Two-byte sequence: ESC 7, ESC 8, ESC =, ESC >, ...
		return 2, true
	}
}

// dropSequence decides whether a complete escape sequence is protocol noise.
// Unrecognized sequences are kept.
func dropSequence(seq []byte) bool {
	switch seq[1] {
	case ']', 'P', 'X', '^', '_':
		// OSC (window titles, shell integration markers) and string
		// sequences are never user-visible content.
		return true
	case '7', '8':
		// DECSC/DECRC cursor save/restore.
		return true
	case '[':
		for _, re := range csiJunk {
			if re.Match(seq) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

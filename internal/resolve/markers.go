package resolve

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedMarkers means the conflict markers are unbalanced or out of order.
	ErrMalformedMarkers = errors.New("malformed conflict markers")
	// ErrNoMarkers means the file contains no conflict block to resolve.
	ErrNoMarkers = errors.New("no conflict markers found")
)

const (
	markerStart = "<<<<<<<"
	markerBase  = "|||||||"
	markerSep   = "======="
	markerEnd   = ">>>>>>>"
)

// Block is one conflict region. Lines keep their original line endings.
type Block struct {
	Current  []string
	Base     []string
	Incoming []string
}

// Segment is either plain text or a conflict block.
type Segment struct {
	Lines []string
	Block *Block
}

type parseState int

const (
	stateOutside parseState = iota
	stateCurrent
	stateBase
	stateIncoming
)

func isMarker(line, marker string) bool {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, marker) {
		return false
	}
	rest := line[len(marker):]
	if marker == markerSep {
		return rest == ""
	}
	return rest == "" || rest[0] == ' '
}

// ParseBlocks splits content into plain and conflict segments. It accepts
// diff3-style base sections and rejects unbalanced or misordered markers.
func ParseBlocks(content string) ([]Segment, error) {
	var (
		segs   []Segment
		plain  []string
		block  *Block
		state  = stateOutside
		blocks int
	)

	malformed := func(lineNo int, what string) error {
		return fmt.Errorf("%w: line %d: %s", ErrMalformedMarkers, lineNo, what)
	}

	for i, line := range strings.SplitAfter(content, "\n") {
		if line == "" {
			continue
		}
		n := i + 1
		switch {
		case isMarker(line, markerStart):
			if state != stateOutside {
				return nil, malformed(n, "nested "+markerStart)
			}
			if len(plain) > 0 {
				segs = append(segs, Segment{Lines: plain})
				plain = nil
			}
			block = &Block{}
			state = stateCurrent
		case isMarker(line, markerBase):
			if state != stateCurrent {
				return nil, malformed(n, "unexpected "+markerBase)
			}
			state = stateBase
		case isMarker(line, markerSep):
			switch state {
			case stateCurrent, stateBase:
				state = stateIncoming
			case stateOutside:
				// A lone separator outside a block is ordinary text
				// (a setext heading underline, for example).
				plain = append(plain, line)
			default:
				return nil, malformed(n, "unexpected "+markerSep)
			}
		case isMarker(line, markerEnd):
			if state != stateIncoming {
				return nil, malformed(n, "unexpected "+markerEnd)
			}
			segs = append(segs, Segment{Block: block})
			blocks++
			block = nil
			state = stateOutside
		default:
			switch state {
			case stateOutside:
				plain = append(plain, line)
			case stateCurrent:
				block.Current = append(block.Current, line)
			case stateBase:
				block.Base = append(block.Base, line)
			case stateIncoming:
				block.Incoming = append(block.Incoming, line)
			}
		}
	}

	if state != stateOutside {
		return nil, fmt.Errorf("%w: unterminated conflict block", ErrMalformedMarkers)
	}
	if blocks == 0 {
		return nil, ErrNoMarkers
	}
	if len(plain) > 0 {
		segs = append(segs, Segment{Lines: plain})
	}
	return segs, nil
}

// Render joins segments back into file content, resolving each block with fn.
func Render(segs []Segment, fn func(*Block) []string) string {
	var b strings.Builder
	for _, s := range segs {
		lines := s.Lines
		if s.Block != nil {
			lines = fn(s.Block)
		}
		for _, l := range lines {
			b.WriteString(l)
		}
	}
	return b.String()
}

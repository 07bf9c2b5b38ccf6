// Copyright © 2026 ソニーレベル <C7kali3@gmail.com>
// Marker scanner for remote file references embedded in command text

package marker

import (
	"fmt"
	"strings"
)

// Marker tokens. An input reference is written <#:i>name</>, an output
// reference <#:o>name</>. Anything else, including look-alikes such as
// <#:x>, is literal text.
const (
	openInput  = "<#:i>"
	openOutput = "<#:o>"
	closeTag   = "</>"
)

// Direction tells whether a reference names a file the command reads
// (staged in before the run) or one it writes (staged out after).
type Direction int

const (
	Input Direction = iota
	Output
)

// String returns the direction name
func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Segment is one span of a parsed fragment: either literal text or a
// typed remote-file reference.
type Segment struct {
	Text string    // literal content, empty for references
	Name string    // remote object name, empty for literals
	Dir  Direction // transfer direction, meaningful for references only
	ref  bool
}

// Lit builds a literal segment
func Lit(text string) Segment {
	return Segment{Text: text}
}

// Ref builds a reference segment
func Ref(name string, dir Direction) Segment {
	return Segment{Name: name, Dir: dir, ref: true}
}

// IsRef reports whether the segment is a remote-file reference
func (s Segment) IsRef() bool {
	return s.ref
}

// Raw returns the wire form of the segment. Concatenating Raw over a
// fragment's segments reconstructs the original fragment text exactly.
func (s Segment) Raw() string {
	if !s.ref {
		return s.Text
	}
	return Format(s.Name, s.Dir)
}

// Format renders the wire form of a reference to name in direction d
func Format(name string, d Direction) string {
	if d == Output {
		return openOutput + name + closeTag
	}
	return openInput + name + closeTag
}

// Fragment is one parsed request field - the command name or a single
// argument - broken into ordered segments.
type Fragment struct {
	Raw      string
	Segments []Segment
}

// HasRefs reports whether any segment is a reference
func (f Fragment) HasRefs() bool {
	for _, s := range f.Segments {
		if s.IsRef() {
			return true
		}
	}
	return false
}

// Render concatenates the fragment's segments, replacing each reference
// with the local path returned by resolve. Literal segments pass through
// untouched.
func (f Fragment) Render(resolve func(name string) (string, error)) (string, error) {
	var sb strings.Builder
	for _, s := range f.Segments {
		if !s.IsRef() {
			sb.WriteString(s.Text)
			continue
		}
		path, err := resolve(s.Name)
		if err != nil {
			return "", err
		}
		sb.WriteString(path)
	}
	return sb.String(), nil
}

// SyntaxError reports a malformed marker within one fragment
type SyntaxError struct {
	Fragment string // raw fragment text
	Offset   int    // byte offset of the offending marker
	Reason   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("marker syntax error at offset %d in %q: %s", e.Offset, e.Fragment, e.Reason)
}

// Parse scans raw fragment text into an ordered segment sequence.
// Markers do not nest: a reference's name is everything up to the first
// close tag. An open marker without a close, a close marker without a
// preceding open, or an empty remote name fail with SyntaxError; the
// fragment is never partially parsed.
func Parse(raw string) (Fragment, error) {
	f := Fragment{Raw: raw}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			f.Segments = append(f.Segments, Lit(lit.String()))
			lit.Reset()
		}
	}

	i := 0
	for i < len(raw) {
		next := strings.IndexByte(raw[i:], '<')
		if next < 0 {
			lit.WriteString(raw[i:])
			break
		}
		lit.WriteString(raw[i : i+next])
		i += next

		if dir, width, ok := openAt(raw, i); ok {
			rest := raw[i+width:]
			end := strings.Index(rest, closeTag)
			if end < 0 {
				return Fragment{}, &SyntaxError{Fragment: raw, Offset: i, Reason: "unclosed reference marker"}
			}
			name := rest[:end]
			if name == "" {
				return Fragment{}, &SyntaxError{Fragment: raw, Offset: i, Reason: "empty remote name"}
			}
			flush()
			f.Segments = append(f.Segments, Ref(name, dir))
			i += width + end + len(closeTag)
			continue
		}

		if strings.HasPrefix(raw[i:], closeTag) {
			return Fragment{}, &SyntaxError{Fragment: raw, Offset: i, Reason: "close marker without a matching open"}
		}

		// A lone '<' that opens nothing is ordinary text
		lit.WriteByte(raw[i])
		i++
	}

	flush()
	if len(f.Segments) == 0 {
		f.Segments = []Segment{Lit("")}
	}
	return f, nil
}

// ParseAll parses the command fragment and every argument fragment of a
// request in order. The command parses first, so its offset reports win
// when both are malformed.
func ParseAll(command string, args []string) (Fragment, []Fragment, error) {
	cmdFrag, err := Parse(command)
	if err != nil {
		return Fragment{}, nil, err
	}
	argFrags := make([]Fragment, 0, len(args))
	for _, arg := range args {
		frag, err := Parse(arg)
		if err != nil {
			return Fragment{}, nil, err
		}
		argFrags = append(argFrags, frag)
	}
	return cmdFrag, argFrags, nil
}

func openAt(s string, i int) (Direction, int, bool) {
	if strings.HasPrefix(s[i:], openInput) {
		return Input, len(openInput), true
	}
	if strings.HasPrefix(s[i:], openOutput) {
		return Output, len(openOutput), true
	}
	return 0, 0, false
}

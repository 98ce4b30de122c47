// Package rdlog parses the pipe-delimited log lines written by the gateway.
//
// A structured line looks like
//
//	1700000000|7|n2kafka|140234| Creating new HTTP listener on port 2057
//
// Field 3 identifies the emitting thread and field 4 holds the message text,
// which may itself contain '|'. The message keeps the space that follows
// the last separator.
package rdlog

import "strings"

const (
	// ThreadField is the index of the thread identity token.
	ThreadField = 3
	// MessageField is the index of the free-form message.
	MessageField = 4

	numFields = MessageField + 1
)

// Stream names the child output a line was read from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LogLine is a single decoded line. It is a value type and never mutated
// after Parse returns it.
type LogLine struct {
	Raw    string
	Stream Stream
	fields []string
}

// Parse splits raw into its rdlog fields. Lines with fewer fields than the
// structured prefix requires are kept with IsStructured reporting false.
func Parse(raw string, stream Stream) LogLine {
	line := LogLine{Raw: raw, Stream: stream}
	if fields := strings.SplitN(raw, "|", numFields); len(fields) == numFields {
		line.fields = fields
	}
	return line
}

// IsStructured reports whether the line carried the full rdlog prefix.
func (l LogLine) IsStructured() bool {
	return l.fields != nil
}

// Thread returns the thread identity token, or "" for unstructured lines.
func (l LogLine) Thread() string {
	if l.fields == nil {
		return ""
	}
	return l.fields[ThreadField]
}

// Message returns the message field. Unstructured lines return Raw.
func (l LogLine) Message() string {
	if l.fields == nil {
		return l.Raw
	}
	return l.fields[MessageField]
}

// Field returns field i or "" when out of range.
func (l LogLine) Field(i int) string {
	if i < 0 || i >= len(l.fields) {
		return ""
	}
	return l.fields[i]
}

func (l LogLine) String() string {
	return l.Raw
}

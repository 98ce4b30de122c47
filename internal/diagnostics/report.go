package diagnostics

import (
	"bytes"
	"encoding/xml"
	"io"
	"strconv"
)

const (
	errorElement = "error"
	kindElement  = "kind"
	stackElement = "stack"
)

// Report is one completed diagnostic document, produced once per
// supervised run.
type Report struct {
	Root *Node
}

// ParseReport reads one document from r and returns as soon as its
// top-level element closes. Whatever follows is drained so the writer never
// blocks on a full pipe.
func ParseReport(r io.Reader) (*Report, error) {
	root, err := parseDocument(r)
	if err != nil {
		return nil, err
	}
	_, _ = io.Copy(io.Discard, r)
	return &Report{Root: root}, nil
}

// Errors returns the top-level error entries.
func (r *Report) Errors() []*Node {
	if r == nil || r.Root == nil {
		return nil
	}
	return r.Root.ChildrenNamed(errorElement)
}

// Findings summarizes every error entry.
func (r *Report) Findings() []Finding {
	nodes := r.Errors()
	out := make([]Finding, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, newFinding(n))
	}
	return out
}

// findingKey identifies a finding by kind and first stack trace.
func findingKey(errNode *Node) string {
	return errNode.Child(kindElement).Value() + "\x00" + fingerprint(errNode.Child(stackElement))
}

// Frame is one stack frame of a finding.
type Frame struct {
	IP       string
	Object   string
	Function string
	Dir      string
	File     string
	Line     int
}

// Finding is the reporting view of one error entry.
type Finding struct {
	Kind         string
	What         string
	LeakedBytes  int64
	LeakedBlocks int64
	Frames       []Frame
}

func newFinding(n *Node) Finding {
	f := Finding{
		Kind: n.Child(kindElement).Value(),
		What: n.Child("what").Value(),
	}
	if xwhat := n.Child("xwhat"); xwhat != nil {
		if f.What == "" {
			f.What = xwhat.Child("text").Value()
		}
		f.LeakedBytes, _ = strconv.ParseInt(xwhat.Child("leakedbytes").Value(), 10, 64)
		f.LeakedBlocks, _ = strconv.ParseInt(xwhat.Child("leakedblocks").Value(), 10, 64)
	}
	for _, frame := range n.Child(stackElement).ChildrenNamed("frame") {
		line, _ := strconv.Atoi(frame.Child("line").Value())
		f.Frames = append(f.Frames, Frame{
			IP:       frame.Child("ip").Value(),
			Object:   frame.Child("obj").Value(),
			Function: frame.Child("fn").Value(),
			Dir:      frame.Child("dir").Value(),
			File:     frame.Child("file").Value(),
			Line:     line,
		})
	}
	return f
}

// Location returns "fn (file:line)" of the innermost frame with source
// information, falling back to the first frame.
func (f Finding) Location() string {
	for _, fr := range f.Frames {
		if fr.File != "" {
			return fr.Function + " (" + fr.File + ":" + strconv.Itoa(fr.Line) + ")"
		}
	}
	if len(f.Frames) > 0 {
		if f.Frames[0].Function != "" {
			return f.Frames[0].Function
		}
		return f.Frames[0].IP
	}
	return ""
}

const xmlDeclaration = `<?xml version="1.0"?>` + "\n"

// WriteTo writes the report as a standalone document.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString(xmlDeclaration)
	enc := xml.NewEncoder(&buf)
	if err := r.Root.encode(enc); err != nil {
		return 0, err
	}
	if err := enc.Flush(); err != nil {
		return 0, err
	}
	buf.WriteString("\n")
	return buf.WriteTo(w)
}

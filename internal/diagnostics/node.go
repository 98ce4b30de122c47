package diagnostics

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ErrIncompleteReport is returned when the diagnostic stream ends before
// its top-level element is closed.
var ErrIncompleteReport = errors.New("diagnostic stream ended before the report was complete")

// Node is one element of a diagnostic document. Text is the character data
// before the first child, Tail the character data following the element
// inside its parent.
type Node struct {
	Name     string
	Attrs    []xml.Attr
	Text     string
	Tail     string
	Children []*Node
}

// Child returns the first direct child called name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns every direct child called name.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Path follows a chain of first children, e.g. Path("xwhat", "leakedbytes").
func (n *Node) Path(names ...string) *Node {
	cur := n
	for _, name := range names {
		cur = cur.Child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value returns the trimmed text of the node, "" for nil.
func (n *Node) Value() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// Equal compares name, text, tail, attributes and children recursively.
// Attribute order is not significant.
func (n *Node) Equal(other *Node) bool {
	return fingerprint(n) == fingerprint(other)
}

// fingerprint is a canonical serialization used for equality and set
// membership.
func fingerprint(n *Node) string {
	if n == nil {
		return "nil"
	}
	var b strings.Builder
	writeFingerprint(&b, n)
	return b.String()
}

func writeFingerprint(b *strings.Builder, n *Node) {
	b.WriteString("(")
	b.WriteString(strconv.Quote(n.Name))

	attrs := make([]string, 0, len(n.Attrs))
	for _, a := range n.Attrs {
		attrs = append(attrs, strconv.Quote(a.Name.Space+":"+a.Name.Local)+"="+strconv.Quote(a.Value))
	}
	sort.Strings(attrs)
	b.WriteString("[")
	b.WriteString(strings.Join(attrs, ","))
	b.WriteString("]")

	b.WriteString(strconv.Quote(n.Text))
	b.WriteString(strconv.Quote(n.Tail))
	for _, c := range n.Children {
		writeFingerprint(b, c)
	}
	b.WriteString(")")
}

// clone copies n and its subtree.
func (n *Node) clone() *Node {
	out := *n
	out.Attrs = append([]xml.Attr(nil), n.Attrs...)
	out.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		out.Children[i] = c.clone()
	}
	return &out
}

// parseDocument reads tokens until the top-level element closes. It does
// not consume input beyond what the decoder buffered.
func parseDocument(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	var stack []*Node
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrIncompleteReport
			}
			return nil, fmt.Errorf("parsing diagnostic stream: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			node := &Node{Name: t.Name.Local, Attrs: append([]xml.Attr(nil), t.Attr...)}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, node)
			}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			if len(top.Children) == 0 {
				top.Text += string(t)
			} else {
				last := top.Children[len(top.Children)-1]
				last.Tail += string(t)
			}
		case xml.EndElement:
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return node, nil
			}
		}
	}
}

// encode writes n and its subtree, without n's tail.
func (n *Node) encode(enc *xml.Encoder) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}, Attr: n.Attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if n.Text != "" {
		if err := enc.EncodeToken(xml.CharData(n.Text)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := c.encode(enc); err != nil {
			return err
		}
		if c.Tail != "" {
			if err := enc.EncodeToken(xml.CharData(c.Tail)); err != nil {
				return err
			}
		}
	}
	return enc.EncodeToken(start.End())
}

package supervisor

import (
	"strconv"
	"strings"

	"n2kharness/internal/rdlog"
)

// ListenerMarker prefixes the gateway's listener banner message, e.g.
// " Creating new HTTP listener on port 2057".
const ListenerMarker = " Creating new "

// ReadinessProbe decides from a single log line whether the child is ready.
// A non-nil error aborts startup.
type ReadinessProbe interface {
	Check(line rdlog.LogLine) (bool, error)
}

// ProbeFunc adapts a function to ReadinessProbe.
type ProbeFunc func(line rdlog.LogLine) (bool, error)

func (f ProbeFunc) Check(line rdlog.LogLine) (bool, error) { return f(line) }

// ListenerProbe waits for the banner of one listener. Proto is compared
// case-insensitively against the first token after the marker and Port
// against the fifth ("<proto> listener on port <port>").
type ListenerProbe struct {
	Proto string
	Port  int
}

func (p ListenerProbe) Check(line rdlog.LogLine) (bool, error) {
	msg := line.Message()
	if !line.IsStructured() || !strings.HasPrefix(msg, ListenerMarker) {
		return false, nil
	}

	tokens := strings.Fields(strings.TrimPrefix(msg, ListenerMarker))
	var gotProto, gotPort string
	if len(tokens) > 0 {
		gotProto = tokens[0]
	}
	if len(tokens) > 4 {
		gotPort = tokens[4]
	}

	wantPort := strconv.Itoa(p.Port)
	if !strings.EqualFold(gotProto, p.Proto) || gotPort != wantPort {
		return false, &ReadinessMismatchError{
			WantProto: strings.ToUpper(p.Proto),
			WantPort:  wantPort,
			GotProto:  gotProto,
			GotPort:   gotPort,
			Line:      line.Raw,
		}
	}
	return true, nil
}

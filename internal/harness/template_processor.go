package harness

import (
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"n2kharness/pkg/logging"
)

// Built-in template variables.
const (
	VarTopic        = "topic"
	VarRunID        = "run_id"
	VarHost         = "host"
	VarListenerPort = "listener_port"
	// VarScenarioDir is the absolute directory of the scenario file, for
	// fixtures shipped next to it.
	VarScenarioDir = "scenario_dir"
)

// RandomTopic returns a fresh topic name. Brokers reject some names with
// underscores, so none are used.
func RandomTopic() string {
	return "n2kh" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// templateProcessor renders scenario strings with the scenario's variables
// and the sprig function set.
type templateProcessor struct {
	vars  map[string]interface{}
	funcs template.FuncMap
}

// newTemplateProcessor seeds the built-in variables for one scenario run.
func newTemplateProcessor(host string) *templateProcessor {
	funcs := sprig.TxtFuncMap()
	funcs["randomTopic"] = RandomTopic

	return &templateProcessor{
		vars: map[string]interface{}{
			VarTopic: RandomTopic(),
			VarRunID: uuid.NewString(),
			VarHost:  host,
		},
		funcs: funcs,
	}
}

// Set defines or replaces a variable.
func (tp *templateProcessor) Set(key string, value interface{}) {
	tp.vars[key] = value
}

// Lookup returns a variable's value.
func (tp *templateProcessor) Lookup(key string) (interface{}, bool) {
	v, ok := tp.vars[key]
	return v, ok
}

// AddUserVars renders the scenario's vars in key order, each seeing the
// ones before it.
func (tp *templateProcessor) AddUserVars(vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if isBuiltinVar(k) {
			return fmt.Errorf("var %q shadows a built-in variable", k)
		}
		v, err := tp.Render(vars[k])
		if err != nil {
			return fmt.Errorf("var %q: %w", k, err)
		}
		tp.vars[k] = v
	}
	return nil
}

func isBuiltinVar(k string) bool {
	switch k {
	case VarTopic, VarRunID, VarHost, VarListenerPort, VarScenarioDir:
		return true
	}
	return false
}

// Render executes s as a template. Strings without an action are returned
// unchanged so payloads full of braces need no escaping.
func (tp *templateProcessor) Render(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("value").Option("missingkey=error").Funcs(tp.funcs).Parse(s)
	if err != nil {
		return "", fmt.Errorf("parsing template %q: %w", s, err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, tp.vars); err != nil {
		return "", fmt.Errorf("rendering template %q: %w", s, err)
	}
	return out.String(), nil
}

func (tp *templateProcessor) renderPtr(s *string) (*string, error) {
	if s == nil {
		return nil, nil
	}
	r, err := tp.Render(*s)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (tp *templateProcessor) renderAll(in []string) ([]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		r, err := tp.Render(s)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// RenderValue renders every string inside a decoded YAML value.
func (tp *templateProcessor) RenderValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return tp.Render(val)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			r, err := tp.RenderValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = r
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			r, err := tp.RenderValue(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveMessage returns m with every template rendered.
func (tp *templateProcessor) ResolveMessage(m Message) (Message, error) {
	var err error
	out := m

	if out.URI, err = tp.Render(m.URI); err != nil {
		return Message{}, fmt.Errorf("uri: %w", err)
	}
	if m.Headers != nil {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			if out.Headers[k], err = tp.Render(v); err != nil {
				return Message{}, fmt.Errorf("header %s: %w", k, err)
			}
		}
	}
	if out.Body, err = tp.renderPtr(m.Body); err != nil {
		return Message{}, fmt.Errorf("body: %w", err)
	}
	if m.Chunks != nil {
		out.Chunks = make([]Chunk, len(m.Chunks))
		for i, c := range m.Chunks {
			rc := c
			if rc.Data, err = tp.renderPtr(c.Data); err != nil {
				return Message{}, fmt.Errorf("chunk %d: %w", i, err)
			}
			if c.Broker != nil {
				b, err := tp.resolveBroker(*c.Broker)
				if err != nil {
					return Message{}, fmt.Errorf("chunk %d: %w", i, err)
				}
				rc.Broker = &b
			}
			out.Chunks[i] = rc
		}
	}
	if m.TLS != nil {
		t := *m.TLS
		if t.CAFile, err = tp.Render(m.TLS.CAFile); err != nil {
			return Message{}, fmt.Errorf("tls.ca_file: %w", err)
		}
		out.TLS = &t
	}
	if out.Expect, err = tp.ResolveExpectations(m.Expect); err != nil {
		return Message{}, err
	}

	logging.Debug("Harness", "resolved message %s %s", out.Method, out.URI)
	return out, nil
}

// ResolveExpectations renders the templates of a list of expectations.
func (tp *templateProcessor) ResolveExpectations(in []Expectation) ([]Expectation, error) {
	if in == nil {
		return nil, nil
	}
	out := make([]Expectation, len(in))
	for i, e := range in {
		r := e
		var err error
		if r.Body, err = tp.renderPtr(e.Body); err != nil {
			return nil, fmt.Errorf("expectation %d: %w", i, err)
		}
		if e.Broker != nil {
			b, err := tp.resolveBroker(*e.Broker)
			if err != nil {
				return nil, fmt.Errorf("expectation %d: %w", i, err)
			}
			r.Broker = &b
		}
		if r.Log, err = tp.renderAll(e.Log); err != nil {
			return nil, fmt.Errorf("expectation %d: %w", i, err)
		}
		if e.NoLog != nil {
			nl := *e.NoLog
			if nl.Patterns, err = tp.renderAll(e.NoLog.Patterns); err != nil {
				return nil, fmt.Errorf("expectation %d: %w", i, err)
			}
			r.NoLog = &nl
		}
		out[i] = r
	}
	return out, nil
}

func (tp *templateProcessor) resolveBroker(b BrokerExpectation) (BrokerExpectation, error) {
	topic, err := tp.Render(b.Topic)
	if err != nil {
		return BrokerExpectation{}, fmt.Errorf("broker topic: %w", err)
	}
	out := BrokerExpectation{Topic: topic, Messages: make([]MessageSpec, len(b.Messages))}
	for i, m := range b.Messages {
		if out.Messages[i].Payload, err = tp.Render(m.Payload); err != nil {
			return BrokerExpectation{}, fmt.Errorf("broker message %d: %w", i, err)
		}
		if out.Messages[i].Match, err = tp.Render(m.Match); err != nil {
			return BrokerExpectation{}, fmt.Errorf("broker message %d: %w", i, err)
		}
	}
	return out, nil
}

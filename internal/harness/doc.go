// Package harness runs black-box scenarios against the n2kafka gateway.
//
// A scenario is a YAML document describing one gateway configuration and
// the HTTP messages replayed against it:
//
//	name: zz-http2k-basic
//	gateway:
//	  listeners:
//	    - decode_as: zz_http2k
//	messages:
//	  - uri: /v1/data/{{ .topic }}
//	    body: '{"a":1}'
//	    expect:
//	      - status: 200
//	      - broker:
//	          topic: "{{ .topic }}"
//	          messages: ['{"a":1}']
//
// For every scenario the runner writes a config artifact, launches the
// gateway through the supervisor and waits for its listener banner. Each
// message then moves through idle, sending and awaiting_expectations to
// done or failed. Messages sent in chunks may interleave broker checks
// with the body and may abort the connection mid-body.
//
// Strings containing "{{" are Go templates with the sprig functions. The
// built-in variables (topic, run_id, host, listener_port, scenario_dir) are
// always defined; scenario vars are rendered in key order and may use them.
//
// Log expectations look at every gateway line the harness consumed since
// the message started, readiness lines included for scenario-level
// checks, and then keep reading until the pattern timeout.
package harness

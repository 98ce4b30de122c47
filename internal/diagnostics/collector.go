// Package diagnostics streams valgrind XML reports out of supervised
// gateway runs through an anonymous pipe and merges them into a
// deduplicated set of findings.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"n2kharness/internal/supervisor"
	"n2kharness/pkg/logging"
)

const subsystem = "Diagnostics"

const (
	XMLFileFlag = "--xml-file="
	XMLFDFlag   = "--xml-fd="

	DefaultParseTimeout = 30 * time.Second
)

// ErrNoXMLFileArg is returned when diagnostics are requested for a command
// line without an --xml-file= argument.
var ErrNoXMLFileArg = errors.New("child command has no " + XMLFileFlag + " argument")

// HasXMLFileArg reports whether argv asks for an XML report file.
func HasXMLFileArg(argv []string) bool {
	for _, a := range argv {
		if strings.HasPrefix(a, XMLFileFlag) {
			return true
		}
	}
	return false
}

// RewriteXMLArgs replaces the first --xml-file=<path> with --xml-fd=<fd> and
// returns the new argv and the original path.
func RewriteXMLArgs(argv []string, fd int) ([]string, string, error) {
	out := append([]string(nil), argv...)
	for i, a := range out {
		if path, ok := strings.CutPrefix(a, XMLFileFlag); ok {
			out[i] = XMLFDFlag + strconv.Itoa(fd)
			return out, path, nil
		}
	}
	return nil, "", ErrNoXMLFileArg
}

// Collector launches children with a diagnostic side channel and owns the
// session-wide ReportSet.
type Collector struct {
	set          *ReportSet
	parseTimeout time.Duration

	mu           sync.Mutex
	artifactPath string
}

// Option customizes a Collector.
type Option func(*Collector)

// WithParseTimeout bounds the wait for a run's report after its child
// stopped.
func WithParseTimeout(d time.Duration) Option {
	return func(c *Collector) { c.parseTimeout = d }
}

// WithArtifactPath overrides the artifact path taken from --xml-file=.
func WithArtifactPath(path string) Option {
	return func(c *Collector) { c.artifactPath = path }
}

// NewCollector returns a collector with an empty report set.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		set:          NewReportSet(),
		parseTimeout: DefaultParseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set exposes the accumulated reports.
func (c *Collector) Set() *ReportSet {
	return c.set
}

// ArtifactPath is the configured path or the first --xml-file= path seen.
func (c *Collector) ArtifactPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifactPath
}

// Flush writes the accumulated set to ArtifactPath. It is a no-op when no
// path is known.
func (c *Collector) Flush() error {
	path := c.ArtifactPath()
	if path == "" {
		return nil
	}
	logging.Info(subsystem, "writing %d diagnostic report(s) to %s", c.set.Len(), path)
	return c.set.FlushToArtifact(path)
}

// Run is a supervised child whose diagnostic report is merged on Close.
type Run struct {
	*supervisor.Child

	collector *Collector
	done      chan struct{}
	report    *Report
	parseErr  error

	closeOnce sync.Once
	closeErr  error
}

// Launch starts the child described by opts with its XML report redirected
// into a pipe read by a background parser.
func (c *Collector) Launch(ctx context.Context, opts supervisor.Options) (*Run, error) {
	fd := 3 + len(opts.ExtraFiles)
	argv, path, err := RewriteXMLArgs(opts.Argv, fd)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.artifactPath == "" {
		c.artifactPath = path
	}
	c.mu.Unlock()

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating diagnostic pipe: %w", err)
	}

	run := &Run{collector: c, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer pr.Close()
		run.report, run.parseErr = ParseReport(pr)
	}()

	opts.Argv = argv
	opts.ExtraFiles = append(append([]*os.File(nil), opts.ExtraFiles...), pw)

	child, err := supervisor.Start(ctx, opts)
	pw.Close()
	if err != nil {
		// The child is dead; its partial report is discarded.
		run.waitParser(c.parseTimeout)
		return nil, err
	}
	run.Child = child
	return run, nil
}

func (r *Run) waitParser(timeout time.Duration) bool {
	select {
	case <-r.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close stops the child, waits for its report and merges it into the
// collector's set. Errors from every step are joined.
func (r *Run) Close() error {
	r.closeOnce.Do(func() {
		stopErr := r.Child.Stop()

		if !r.waitParser(r.collector.parseTimeout) {
			r.closeErr = errors.Join(stopErr, fmt.Errorf("no diagnostic report within %s", r.collector.parseTimeout))
			return
		}
		if r.parseErr != nil {
			r.closeErr = errors.Join(stopErr, r.parseErr)
			return
		}

		added := r.collector.set.Merge(r.report)
		logging.Debug(subsystem, "merged report of pid %d: %d new finding(s)", r.Pid(), added)
		r.closeErr = stopErr
	})
	return r.closeErr
}

// Stop is Close so a Run can stand in wherever a child is stopped.
func (r *Run) Stop() error {
	return r.Close()
}

// Report returns the parsed report once Close returned.
func (r *Run) Report() *Report {
	select {
	case <-r.done:
		return r.report
	default:
		return nil
	}
}

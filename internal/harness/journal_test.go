package harness

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"n2kharness/internal/supervisor"
)

func TestLogJournal_ReadAndFind(t *testing.T) {
	j := newLogJournal()
	logs := newFakeLogs(rdline("1", "first"), rdline("1", "second"), rdline("1", "third"))

	_, err := j.Read(context.Background(), logs, 0)
	require.NoError(t, err)
	mark := j.Mark()
	for i := 0; i < 2; i++ {
		_, err := j.Read(context.Background(), logs, 0)
		require.NoError(t, err)
	}

	_, ok := j.Find(mark, regexp.MustCompile("first"))
	assert.False(t, ok, "lines before the mark are not searched")

	i, ok := j.Find(mark, regexp.MustCompile("third"))
	require.True(t, ok)
	assert.Equal(t, 2, i)

	assert.Len(t, j.Since(mark), 2)
	assert.Equal(t, []string{rdline("1", "third")}, j.Tail(1))
	assert.Len(t, j.Tail(10), 3)
}

func TestLogJournal_ProbeRecords(t *testing.T) {
	j := newLogJournal()
	probe := j.Probe(supervisor.ListenerProbe{Proto: "HTTP", Port: 2057})

	ready, err := probe.Check(parseLine(rdline("1", "Starting n2kafka")))
	require.NoError(t, err)
	assert.False(t, ready)

	ready, err = probe.Check(parseLine(rdline("1", " Creating new HTTP listener on port 2057")))
	require.NoError(t, err)
	assert.True(t, ready)

	assert.Equal(t, 2, j.Mark())
}

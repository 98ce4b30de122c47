package streamqueue

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, q *Queue) []Line {
	t.Helper()
	var out []Line
	for {
		line, err := q.Get(context.Background(), 2*time.Second)
		if err == ErrClosed {
			return out
		}
		require.NoError(t, err)
		out = append(out, line)
	}
}

func TestQueue_MergesStreamsWithoutLossOrDuplication(t *testing.T) {
	const perStream = 500

	q := New()
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	q.Attach("stdout", outR)
	q.Attach("stderr", errR)

	var wg sync.WaitGroup
	produce := func(w *io.PipeWriter, prefix string) {
		defer wg.Done()
		defer w.Close()
		for i := 0; i < perStream; i++ {
			fmt.Fprintf(w, "%s-%d\n", prefix, i)
		}
	}
	wg.Add(2)
	go produce(outW, "out")
	go produce(errW, "err")

	lines := drainAll(t, q)
	wg.Wait()

	require.Len(t, lines, 2*perStream)

	next := map[string]int{"stdout": 0, "stderr": 0}
	prefix := map[string]string{"stdout": "out", "stderr": "err"}
	for _, line := range lines {
		want := fmt.Sprintf("%s-%d", prefix[line.Source], next[line.Source])
		assert.Equal(t, want, line.Text, "per-stream order broken for %s", line.Source)
		next[line.Source]++
	}
	assert.Equal(t, perStream, next["stdout"])
	assert.Equal(t, perStream, next["stderr"])
}

func TestQueue_LinesQueuedWhileNobodyWaits(t *testing.T) {
	q := New()
	q.Attach("stdout", strings.NewReader("a\nb\nc"))
	q.Wait()

	assert.Equal(t, 3, q.Len())
	lines := drainAll(t, q)
	require.Len(t, lines, 3)
	assert.Equal(t, "c", lines[2].Text, "final line without terminator is kept")
}

func TestQueue_DropsInvalidUTF8(t *testing.T) {
	q := New()
	q.Attach("stdout", strings.NewReader("ok-1\n\xff\xfe broken\r\nok-2\n"))
	q.Wait()

	lines := drainAll(t, q)
	require.Len(t, lines, 2)
	assert.Equal(t, "ok-1", lines[0].Text)
	assert.Equal(t, "ok-2", lines[1].Text)
	assert.Equal(t, 1, q.Dropped())
}

func TestQueue_GetTimesOut(t *testing.T) {
	q := New()
	r, w := io.Pipe()
	defer w.Close()
	q.Attach("stdout", r)

	start := time.Now()
	_, err := q.Get(context.Background(), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestQueue_GetWakesOnLateLine(t *testing.T) {
	q := New()
	r, w := io.Pipe()
	q.Attach("stdout", r)

	go func() {
		time.Sleep(20 * time.Millisecond)
		fmt.Fprintln(w, "late")
		w.Close()
	}()

	line, err := q.Get(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", line.Text)

	_, err = q.Get(context.Background(), 2*time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_GetHonoursContext(t *testing.T) {
	q := New()
	r, w := io.Pipe()
	defer w.Close()
	q.Attach("stdout", r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Get(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_TryGet(t *testing.T) {
	q := New()
	_, ok := q.TryGet()
	assert.False(t, ok)

	q.Attach("stdout", strings.NewReader("x\n"))
	q.Wait()
	line, ok := q.TryGet()
	require.True(t, ok)
	assert.Equal(t, Line{Source: "stdout", Text: "x"}, line)
}

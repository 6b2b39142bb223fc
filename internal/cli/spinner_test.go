package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerUpdateAndStop(t *testing.T) {
	var out syncBuffer
	s := newSpinner(context.Background(), "loading")
	s.w = &out
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Update("analyzing")
	time.Sleep(200 * time.Millisecond)
	s.Stop()
	s.Stop()

	got := out.String()
	if !strings.Contains(got, "loading") || !strings.Contains(got, "analyzing") {
		t.Errorf("output = %q", got)
	}
}

func TestSpinnerStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newSpinner(ctx, "waiting")
	s.w = &syncBuffer{}
	s.Start()
	cancel()
	select {
	case <-s.stopped:
	case <-time.After(time.Second):
		t.Fatal("spinner did not stop on cancel")
	}
	s.Stop()
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	s := newSpinner(context.Background(), "idle")
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked")
	}
}

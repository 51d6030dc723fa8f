package logstream

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func collect(t *testing.T, ch <-chan Entry) []Entry {
	t.Helper()
	var got []Entry
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatalf("subscription did not finish, got %d entries", len(got))
		}
	}
}

func assertHistory(t *testing.T, got []Entry, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, e := range got {
		if e.Seq != i {
			t.Errorf("entry %d: expected seq %d, got %d", i, i, e.Seq)
		}
		if e.Line != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], e.Line)
		}
	}
}

func TestAppend_SequenceNumbers(t *testing.T) {
	l := New()
	if seq := l.Append("a"); seq != 0 {
		t.Errorf("expected 0, got %d", seq)
	}
	if seq := l.Append("b"); seq != 1 {
		t.Errorf("expected 1, got %d", seq)
	}
	l.Close()
	if seq := l.Append("c"); seq != -1 {
		t.Errorf("expected -1 after close, got %d", seq)
	}
	if l.Len() != 2 {
		t.Errorf("expected 2 lines, got %d", l.Len())
	}
}

func TestSubscribe_LateSubscriberReplaysFromZero(t *testing.T) {
	l := New()
	l.Append("Preparando…")
	l.Append("Encontradas 2 pistas para descargar…")
	l.Close()

	got := collect(t, l.Subscribe(context.Background()))
	assertHistory(t, got, []string{"Preparando…", "Encontradas 2 pistas para descargar…"})
}

func TestSubscribe_FollowsLiveAppends(t *testing.T) {
	l := New()
	l.Append("first")

	ch := l.Subscribe(context.Background())

	go func() {
		for i := 0; i < 50; i++ {
			l.Append(fmt.Sprintf("line %d", i))
		}
		l.Close()
	}()

	want := []string{"first"}
	for i := 0; i < 50; i++ {
		want = append(want, fmt.Sprintf("line %d", i))
	}
	assertHistory(t, collect(t, ch), want)
}

func TestSubscribe_ConcurrentReadersSeeSameOrder(t *testing.T) {
	l := New()

	const readers = 5
	results := make([][]Entry, readers)
	var wg sync.WaitGroup
	for r := 0; r < readers; r++ {
		ch := l.Subscribe(context.Background())
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for e := range ch {
				if r%2 == 0 {
					time.Sleep(time.Millisecond)
				}
				results[r] = append(results[r], e)
			}
		}(r)
	}

	var want []string
	for i := 0; i < 100; i++ {
		line := fmt.Sprintf("line %d", i)
		want = append(want, line)
		l.Append(line)
	}
	l.Close()
	wg.Wait()

	for r := 0; r < readers; r++ {
		assertHistory(t, results[r], want)
	}
}

func TestSubscribe_CancelReleasesSubscriber(t *testing.T) {
	l := New()
	l.Append("a")

	ctx, cancel := context.WithCancel(context.Background())
	ch := l.Subscribe(ctx)
	<-ch

	if l.Subscribers() != 1 {
		t.Errorf("expected 1 subscriber, got %d", l.Subscribers())
	}

	cancel()
	for range ch {
	}

	deadline := time.Now().Add(time.Second)
	for l.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", l.Subscribers())
	}

	// The producer is unaffected by the departed reader.
	if seq := l.Append("b"); seq != 1 {
		t.Errorf("expected 1, got %d", seq)
	}
}

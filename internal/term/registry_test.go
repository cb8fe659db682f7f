package term

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lanehart/beam/internal/event"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type recordingSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordingSink) Emit(evt event.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) exitedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Kind == event.SessionExited {
			out = append(out, e.SessionID)
		}
	}
	return out
}

func newTestRegistry(t *testing.T, bufCap int) *Registry {
	t.Helper()
	r := NewRegistry(Config{BufferCap: bufCap})
	t.Cleanup(r.Shutdown)
	return r
}

func TestUnknownSessionErrors(t *testing.T) {
	r := newTestRegistry(t, 0)

	if err := r.Write("nope", []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Write: got %v, want ErrSessionNotFound", err)
	}
	if _, err := r.BufferSnapshot("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("BufferSnapshot: got %v, want ErrSessionNotFound", err)
	}
	if err := r.Attach("nope", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Attach: got %v, want ErrSessionNotFound", err)
	}
	// Resize, kill and detach on an absent id are tolerant no-ops.
	if err := r.Resize("nope", 100, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	r.Kill("nope")
	r.KillMany([]string{"a", "b"})
	r.Detach("nope")
	r.MarkAttached("nope")
}

func TestSpawnFailureRegistersNothing(t *testing.T) {
	r := newTestRegistry(t, 0)
	_, err := r.Spawn(Options{Shell: "/does/not/exist/binary-xyz"})
	if err == nil {
		t.Fatalf("expected spawn failure")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("got %T, want *SpawnError", err)
	}
	if got := len(r.List()); got != 0 {
		t.Fatalf("registry has %d sessions after failed spawn", got)
	}
}

func TestWriteIsIsolatedPerSession(t *testing.T) {
	r := newTestRegistry(t, 0)

	a, err := r.Spawn(Options{Shell: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	b, err := r.Spawn(Options{Shell: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn b: %v", err)
	}

	if err := r.Write(a, []byte("echo hi\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, "output in session a", func() bool {
		buf, err := r.BufferSnapshot(a)
		return err == nil && bytes.Contains(buf, []byte("echo hi"))
	})

	buf, err := r.BufferSnapshot(b)
	if err != nil {
		t.Fatalf("snapshot b: %v", err)
	}
	if len(buf) != 0 {
		t.Fatalf("session b buffer not empty: %q", buf)
	}
}

func TestBufferHoldsLastCapacityBytes(t *testing.T) {
	r := newTestRegistry(t, 100)

	payload := strings.Repeat("0123456789", 15) // 150 bytes, no newlines
	id, err := r.Spawn(Options{
		Shell: "/bin/sh",
		Args:  []string{"-c", "printf '%s' '" + payload + "'; exec sleep 30"},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	waitFor(t, "buffer to fill to capacity", func() bool {
		buf, err := r.BufferSnapshot(id)
		return err == nil && len(buf) == 100
	})

	buf, err := r.BufferSnapshot(id)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got, want := string(buf), payload[50:]; got != want {
		t.Fatalf("buffer mismatch\n got %q\nwant %q", got, want)
	}
}

func TestListAndKill(t *testing.T) {
	r := newTestRegistry(t, 0)

	id, err := r.Spawn(Options{Shell: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	infos := r.List()
	if len(infos) != 1 || infos[0].ID != id {
		t.Fatalf("unexpected listing: %+v", infos)
	}
	if infos[0].Title != "cat" || infos[0].Kind != KindShell {
		t.Fatalf("unexpected metadata: %+v", infos[0])
	}

	r.Kill(id)
	waitFor(t, "session removal", func() bool { return len(r.List()) == 0 })
	if err := r.Write(id, []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("write after kill: got %v, want ErrSessionNotFound", err)
	}
	// Killing again is a no-op success.
	r.Kill(id)
}

func TestNaturalExitRemovesSessionAndEmits(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(Config{Sink: sink})
	t.Cleanup(r.Shutdown)

	id, err := r.Spawn(Options{Shell: "/bin/sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	waitFor(t, "session removal after exit", func() bool { return len(r.List()) == 0 })
	if err := r.Write(id, []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("write after exit: got %v, want ErrSessionNotFound", err)
	}
	waitFor(t, "session-exited event", func() bool {
		for _, got := range sink.exitedIDs() {
			if got == id {
				return true
			}
		}
		return false
	})
}

func TestAssistantKindDetection(t *testing.T) {
	opts := Options{Shell: "claude --resume"}
	_, _, kind, err := buildCommand(opts)
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if kind != KindAssistant {
		t.Fatalf("kind = %q, want assistant", kind)
	}

	_, _, kind, err = buildCommand(Options{Shell: "/bin/cat"})
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if kind != KindShell {
		t.Fatalf("kind = %q, want shell", kind)
	}

	_, title, kind, err := buildCommand(Options{})
	if err != nil {
		t.Fatalf("buildCommand: %v", err)
	}
	if kind != KindShell || title != "Shell" {
		t.Fatalf("default spawn: title=%q kind=%q", title, kind)
	}
}

type recordingForwarder struct {
	mu      sync.Mutex
	entries []string // "replay:<data>" or "live:<data>"
}

func (f *recordingForwarder) ForwardOutput(_ string, chunk []byte) {
	f.mu.Lock()
	f.entries = append(f.entries, "live:"+string(chunk))
	f.mu.Unlock()
}

func (f *recordingForwarder) addReplay(snapshot []byte) {
	f.mu.Lock()
	f.entries = append(f.entries, "replay:"+string(snapshot))
	f.mu.Unlock()
}

func (f *recordingForwarder) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.entries...)
}

func TestAttachReplaysBeforeLiveOutput(t *testing.T) {
	r := newTestRegistry(t, 0)
	fwd := &recordingForwarder{}
	r.SetForwarder(fwd)

	id, err := r.Spawn(Options{Shell: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if err := r.Write(id, []byte("before\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "pre-attach output buffered", func() bool {
		buf, err := r.BufferSnapshot(id)
		return err == nil && bytes.Contains(buf, []byte("before"))
	})

	if err := r.Attach(id, fwd.addReplay); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := r.Write(id, []byte("after\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "post-attach output forwarded", func() bool {
		for _, e := range fwd.snapshot() {
			if strings.HasPrefix(e, "live:") && strings.Contains(e, "after") {
				return true
			}
		}
		return false
	})

	entries := fwd.snapshot()
	if len(entries) == 0 || !strings.HasPrefix(entries[0], "replay:") {
		t.Fatalf("replay did not precede live output: %v", entries)
	}
	if !strings.Contains(entries[0], "before") {
		t.Fatalf("replay missing buffered output: %q", entries[0])
	}
	if strings.Contains(entries[0], "after") {
		t.Fatalf("replay contains post-attach output: %q", entries[0])
	}
	for _, e := range entries[1:] {
		if strings.HasPrefix(e, "replay:") {
			t.Fatalf("unexpected second replay: %v", entries)
		}
	}
}

func TestDetachStopsForwarding(t *testing.T) {
	r := newTestRegistry(t, 0)
	fwd := &recordingForwarder{}
	r.SetForwarder(fwd)

	id, err := r.Spawn(Options{Shell: "/bin/cat"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	r.MarkAttached(id)
	if err := r.Write(id, []byte("one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "forwarded output", func() bool {
		for _, e := range fwd.snapshot() {
			if strings.Contains(e, "one") {
				return true
			}
		}
		return false
	})

	r.Detach(id)
	before := len(fwd.snapshot())
	if err := r.Write(id, []byte("two\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, "detached output buffered", func() bool {
		buf, err := r.BufferSnapshot(id)
		return err == nil && bytes.Contains(buf, []byte("two"))
	})
	for _, e := range fwd.snapshot()[before:] {
		if strings.Contains(e, "two") {
			t.Fatalf("output forwarded after detach: %v", e)
		}
	}
}

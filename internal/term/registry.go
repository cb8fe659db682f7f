package term

import (
	"log/slog"
	"sync"
	"syscall"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/lanehart/beam/internal/event"
)

const (
	// DefaultBufferCap bounds each session's replay buffer.
	DefaultBufferCap = 100 * 1024

	defaultCols = 80
	defaultRows = 24

	readChunkSize = 16 * 1024
)

// Options describe one spawn request.
type Options struct {
	Shell string   // command line; empty means the user's login shell
	Args  []string // explicit argv; when set, Shell is the program itself
	Cwd   string
	Cols  uint16 // zero means 80
	Rows  uint16 // zero means 24
	// Assistant forces the assistant kind regardless of the command name.
	Assistant bool
}

// Info is the listing surface exposed to the host and the relay.
type Info struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Cwd   string `json:"cwd"`
	Kind  Kind   `json:"type"`
}

// Forwarder receives live output chunks for remote-attached sessions. The
// relay client implements it; delivery is fire-and-forget.
type Forwarder interface {
	ForwardOutput(sessionID string, chunk []byte)
}

// Config wires the registry's collaborators.
type Config struct {
	BufferCap int // replay buffer capacity per session; zero means DefaultBufferCap
	Sink      event.Sink
	Logger    *slog.Logger
}

// Registry owns every live session. All map access happens under mu; per-chunk
// buffer work happens under the individual session's lock.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	fwd      Forwarder
}

func NewRegistry(cfg Config) *Registry {
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = DefaultBufferCap
	}
	if cfg.Sink == nil {
		cfg.Sink = event.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{cfg: cfg, sessions: make(map[string]*Session)}
}

// SetForwarder installs the remote output forwarder. The relay client is
// constructed after the registry, so this cannot be part of Config.
func (r *Registry) SetForwarder(f Forwarder) {
	r.mu.Lock()
	r.fwd = f
	r.mu.Unlock()
}

func (r *Registry) forwarder() Forwarder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fwd
}

// Spawn allocates a PTY sized to the request, starts the process on its
// subordinate side, and registers the session. A failed spawn registers
// nothing.
func (r *Registry) Spawn(opts Options) (string, error) {
	build, title, kind, err := buildCommand(opts)
	if err != nil {
		return "", &SpawnError{Cause: err}
	}

	ws := &pty.Winsize{Cols: defaultCols, Rows: defaultRows}
	if opts.Cols > 0 {
		ws.Cols = opts.Cols
	}
	if opts.Rows > 0 {
		ws.Rows = opts.Rows
	}

	cmd, master, err := spawnPTY(build, ws)
	if err != nil {
		return "", &SpawnError{Cause: err}
	}

	sess := &Session{
		ID:    uuid.NewString(),
		Title: title,
		Cwd:   opts.Cwd,
		Kind:  kind,
		pty:   master,
		cmd:   cmd,
		pid:   cmd.Process.Pid,
		ring:  newRingBuffer(r.cfg.BufferCap),
	}

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	r.cfg.Logger.Info("session spawned", "id", sess.ID, "title", title, "kind", kind, "pid", sess.pid)

	go r.pump(sess)
	go r.supervise(sess)

	return sess.ID, nil
}

// pump drains the PTY into the replay buffer and fans each chunk out to the
// local sink and, for attached sessions, the remote forwarder. A zero-byte
// read or error ends the pump; the supervisor owns cleanup.
func (r *Registry) pump(s *Session) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.mu.Lock()
			s.ring.Write(chunk)
			forward := s.attached
			s.mu.Unlock()

			r.cfg.Sink.Emit(event.Event{Kind: event.SessionOutput, SessionID: s.ID, Data: chunk})
			if forward {
				if f := r.forwarder(); f != nil {
					f.ForwardOutput(s.ID, chunk)
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// supervise reaps the child and removes the session once it exits. Removal is
// mutually exclusive with Kill: whichever path takes the session out of the
// map wins, and only the supervisor path emits session-exited.
func (r *Registry) supervise(s *Session) {
	_ = s.cmd.Wait()
	s.closePTY()

	r.mu.Lock()
	_, present := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	r.mu.Unlock()

	if present {
		r.cfg.Logger.Info("session exited", "id", s.ID)
		r.cfg.Sink.Emit(event.Event{Kind: event.SessionExited, SessionID: s.ID})
	}
}

func (r *Registry) get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[id]
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Write appends bytes to the session's input stream.
func (r *Registry) Write(id string, data []byte) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := s.pty.Write(data); err != nil {
		return err
	}
	return nil
}

// Resize is best-effort: an unknown id is a silent no-op because resize
// requests can legitimately race a session's close.
func (r *Registry) Resize(id string, cols, rows uint16) error {
	s, err := r.get(id)
	if err != nil {
		return nil
	}
	ws := &pty.Winsize{Cols: defaultCols, Rows: defaultRows}
	if cols > 0 {
		ws.Cols = cols
	}
	if rows > 0 {
		ws.Rows = rows
	}
	return pty.Setsize(s.pty, ws)
}

// Kill removes the session and signals its process group. Killing an absent
// id is a no-op success.
func (r *Registry) Kill(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if s == nil {
		return
	}
	r.terminate(s)
}

func (r *Registry) KillMany(ids []string) {
	for _, id := range ids {
		r.Kill(id)
	}
}

// terminate signals the process group, not just the direct child: the running
// command may have spawned descendants that hold the PTY open.
func (r *Registry) terminate(s *Session) {
	if s.pid > 0 {
		_ = syscall.Kill(-s.pid, syscall.SIGHUP)
	}
	s.closePTY()
	r.cfg.Logger.Info("session killed", "id", s.ID)
}

// List snapshots the live sessions.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{ID: s.ID, Title: s.Title, Cwd: s.Cwd, Kind: s.Kind})
	}
	return out
}

// BufferSnapshot copies the session's replay buffer.
func (r *Registry) BufferSnapshot(id string) ([]byte, error) {
	s, err := r.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Bytes(), nil
}

// Attach atomically snapshots the replay buffer and marks the session for
// live forwarding. emit runs under the session lock with the snapshot, so a
// concurrent output chunk is either included in the snapshot (and not
// forwarded) or forwarded live (and absent from the snapshot) — never both,
// never neither — and anything emit enqueues is ordered before the first
// forwarded chunk.
func (r *Registry) Attach(id string, emit func(snapshot []byte)) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if emit != nil {
		emit(s.ring.Bytes())
	}
	s.attached = true
	return nil
}

// MarkAttached flags the session for live forwarding without a replay. Used
// for implicit attachment on remote input; an unknown id is ignored because
// the input path has no ack channel.
func (r *Registry) MarkAttached(id string) {
	s, err := r.get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
}

// Detach stops live forwarding for the session. No-op on unknown ids.
func (r *Registry) Detach(id string) {
	s, err := r.get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.attached = false
	s.mu.Unlock()
}

// Shutdown kills every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		r.terminate(s)
	}
}

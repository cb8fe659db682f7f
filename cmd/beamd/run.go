package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	xterm "golang.org/x/term"

	"github.com/lanehart/beam/internal/event"
	"github.com/lanehart/beam/internal/relay"
	"github.com/lanehart/beam/internal/term"
)

func newRunCmd(root *rootOptions) *cobra.Command {
	var shell string
	var cwd string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and attach the local terminal to a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHost(cmd.Context(), root, shell, cwd)
		},
	}
	runCmd.Flags().StringVar(&shell, "shell", "", "command to run (defaults to config, then the login shell)")
	runCmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the session (defaults to the current directory)")
	return runCmd
}

// localViewer routes one session's output chunks to the attached local
// terminal and signals its exit, passing everything through to the base sink.
// It also reacts to project selection from the paired device.
type localViewer struct {
	base event.Sink

	mu        sync.Mutex
	sessionID string
	exited    chan struct{}
	onSelect  func(projectID string)
}

func (v *localViewer) watch(sessionID string) <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessionID = sessionID
	v.exited = make(chan struct{})
	return v.exited
}

func (v *localViewer) Emit(evt event.Event) {
	v.mu.Lock()
	id := v.sessionID
	exited := v.exited
	onSelect := v.onSelect
	v.mu.Unlock()

	if evt.Kind == event.RelaySelect && onSelect != nil {
		if projectID, ok := evt.Payload.(string); ok {
			onSelect(projectID)
		}
	}

	if evt.SessionID == id && id != "" {
		switch evt.Kind {
		case event.SessionOutput:
			_, _ = os.Stdout.Write(evt.Data)
		case event.SessionExited:
			close(exited)
			v.mu.Lock()
			v.sessionID = ""
			v.mu.Unlock()
		}
	}
	v.base.Emit(evt)
}

func runHost(ctx context.Context, root *rootOptions, shell, cwd string) error {
	logger := root.logger()

	st, err := root.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	var base event.Sink = &event.LogSink{Logger: logger}
	if root.cfg.EventsURL != "" {
		natsSink, err := event.NewNATSSink(root.cfg.EventsURL, logger)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		defer natsSink.Close()
		base = natsSink
	}
	viewer := &localViewer{base: base}

	registry := term.NewRegistry(term.Config{
		BufferCap: root.cfg.BufferCap,
		Sink:      viewer,
		Logger:    logger,
	})
	defer registry.Shutdown()

	client, err := relay.NewClient(relay.Options{
		Store:    st,
		Sessions: registry,
		Projects: st,
		Sink:     viewer,
		Logger:   logger,
		Theme:    root.cfg.Theme,
	})
	if err != nil {
		return err
	}
	registry.SetForwarder(client)
	viewer.mu.Lock()
	viewer.onSelect = client.SetActiveProject
	viewer.mu.Unlock()
	client.Start()
	defer client.Close()

	if shell == "" {
		shell = root.cfg.Shell
	}
	if cwd == "" {
		cwd, _ = os.Getwd()
	}

	stdin := int(os.Stdin.Fd())
	cols, rows := uint16(0), uint16(0)
	if w, h, err := xterm.GetSize(stdin); err == nil {
		cols, rows = uint16(w), uint16(h)
	}

	id, err := registry.Spawn(term.Options{Shell: shell, Cwd: cwd, Cols: cols, Rows: rows})
	if err != nil {
		return err
	}
	exited := viewer.watch(id)

	restore := func() {}
	if xterm.IsTerminal(stdin) {
		state, err := xterm.MakeRaw(stdin)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		restore = func() { _ = xterm.Restore(stdin, state) }
	}
	defer restore()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := xterm.GetSize(stdin); err == nil {
				_ = registry.Resize(id, uint16(w), uint16(h))
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := registry.Write(id, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-exited
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lanehart/beam/internal/config"
	"github.com/lanehart/beam/internal/relay"
	"github.com/lanehart/beam/internal/store"
)

type rootOptions struct {
	configPath string
	cfg        *config.Config
}

func (r *rootOptions) prepare() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

func (r *rootOptions) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, r.cfg.StorePath)
}

func (r *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	switch r.cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "beamd",
		Short: "Terminal session host with remote device mirroring",
	}
	defaultConfig := os.Getenv("BEAM_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to beam config file (default $HOME/.beam/config.yaml)")
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return opts.prepare()
	}

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newRelayCmd(opts))
	rootCmd.AddCommand(newProjectsCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRelayCmd(root *rootOptions) *cobra.Command {
	relayCmd := &cobra.Command{
		Use:   "relay",
		Short: "Manage the device relay configuration",
	}

	var relayURL string
	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable the relay (applies when the host starts)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return updateRelayConfig(cmd.Context(), root, func(cfg *relay.Config) {
				cfg.Enabled = true
				if relayURL != "" {
					cfg.RelayURL = relayURL
				}
			})
		},
	}
	enableCmd.Flags().StringVar(&relayURL, "url", "", "relay server URL (defaults to the stored value)")
	relayCmd.AddCommand(enableCmd)

	relayCmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Disable the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return updateRelayConfig(cmd.Context(), root, func(cfg *relay.Config) {
				cfg.Enabled = false
			})
		},
	})

	relayCmd.AddCommand(&cobra.Command{
		Use:   "regenerate",
		Short: "Rotate the pairing code and passphrase (unlinks all devices)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := updateRelayConfig(cmd.Context(), root, func(cfg *relay.Config) {
				cfg.PairingCode = relay.GeneratePairingCode()
				cfg.PairingPassphrase = relay.GeneratePassphrase()
				cfg.LinkedDevices = nil
			})
			if err != nil {
				return err
			}
			return showRelayStatus(cmd.Context(), root)
		},
	})

	relayCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show relay configuration and linked devices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showRelayStatus(cmd.Context(), root)
		},
	})

	return relayCmd
}

func updateRelayConfig(ctx context.Context, root *rootOptions, mutate func(*relay.Config)) error {
	st, err := root.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	cfg, err := st.RelayConfig()
	if err != nil {
		return err
	}
	mutate(&cfg)
	return st.SetRelayConfig(cfg)
}

func showRelayStatus(ctx context.Context, root *rootOptions) error {
	st, err := root.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	cfg, err := st.RelayConfig()
	if err != nil {
		return err
	}
	fmt.Printf("enabled:     %v\n", cfg.Enabled)
	fmt.Printf("relay url:   %s\n", cfg.RelayURL)
	fmt.Printf("device id:   %s\n", cfg.DeviceID)
	fmt.Printf("device name: %s\n", cfg.DeviceName)
	fmt.Printf("pairing:     %s / %s\n", cfg.PairingCode, cfg.PairingPassphrase)
	if len(cfg.LinkedDevices) == 0 {
		fmt.Println("linked devices: none")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tPAIRED")
	for _, d := range cfg.LinkedDevices {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.DeviceType, d.PairedAt)
	}
	return w.Flush()
}

func newProjectsCmd(root *rootOptions) *cobra.Command {
	projectsCmd := &cobra.Command{
		Use:   "projects",
		Short: "Manage the project list reported to paired devices",
	}

	projectsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := root.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			projects, err := st.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPATH\tLAST OPENED")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Path, p.LastOpened.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	var addName string
	addCmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Add or refresh a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			name := addName
			if name == "" {
				name = filepath.Base(path)
			}
			return st.SaveProject(cmd.Context(), store.Project{
				ID:   uuid.NewString(),
				Name: name,
				Path: path,
			})
		},
	}
	addCmd.Flags().StringVar(&addName, "name", "", "display name (defaults to the directory name)")
	projectsCmd.AddCommand(addCmd)

	projectsCmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			return st.RemoveProject(cmd.Context(), args[0])
		},
	})

	return projectsCmd
}

package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Togather-Foundation/eventsite/internal/config"
	"github.com/Togather-Foundation/eventsite/internal/homepage"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

type snapshotOptions struct {
	format    string
	sessionID string
	phase     string
}

func newSnapshotCommand(global *globalOptions) *cobra.Command {
	opts := &snapshotOptions{}
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Aggregate one homepage snapshot and print it",
		Long: `Run a single homepage aggregation against the configured upstream API and
print the result. Failed upstream calls are listed under "degraded".

Examples:
  # Print the snapshot as JSON
  eventsite snapshot

  # Print it as YAML, aggregated as a client navigation
  eventsite snapshot --format yaml --phase client`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			phase, err := parsePhase(opts.phase)
			if err != nil {
				return err
			}
			return runSnapshot(cmd, cfg, opts, phase)
		},
	}

	cmd.Flags().StringVar(&opts.format, "format", "json", "output format (json, yaml)")
	cmd.Flags().StringVar(&opts.sessionID, "session", "cli", "session ID the snapshot is scoped to")
	cmd.Flags().StringVar(&opts.phase, "phase", "server", "aggregation phase (server, client)")
	return cmd
}

func runSnapshot(cmd *cobra.Command, cfg config.Config, opts *snapshotOptions, phase homepage.Phase) error {
	logger := config.NewLogger(cfg.Logging)
	svc := newServices(cfg, logger)

	snap := svc.homepage.For(opts.sessionID, phase).Snapshot(cmd.Context(), true)
	if snap.IsDegraded() {
		logger.Warn().Strs("degraded", snap.Degraded).Msg("snapshot is degraded")
	}
	return writeSnapshot(cmd.OutOrStdout(), snap, opts.format)
}

func parsePhase(s string) (homepage.Phase, error) {
	switch s {
	case "server":
		return homepage.PhaseServer, nil
	case "client":
		return homepage.PhaseClient, nil
	default:
		return 0, fmt.Errorf("invalid phase %q (want server or client)", s)
	}
}

func writeSnapshot(w io.Writer, snap *homepage.Snapshot, format string) error {
	var (
		out []byte
		err error
	)
	switch format {
	case "json":
		out, err = json.MarshalIndent(snap, "", "  ")
	case "yaml":
		// sigs.k8s.io/yaml goes through the JSON tags, so both formats share
		// field names.
		out, err = yaml.Marshal(snap)
	default:
		return fmt.Errorf("invalid format %q (want json or yaml)", format)
	}
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	if format == "json" {
		_, err = io.WriteString(w, "\n")
	}
	return err
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"hls-relay/internal/platform/logger"
	"hls-relay/internal/playlist"
	"hls-relay/internal/upstream"

	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	var records bool
	cmd := &cobra.Command{
		Use:   "probe <manifest-url>",
		Short: "Load a manifest once and print it",
		Long: `probe fetches and parses a manifest the way a relay does and prints it
re-encoded, or as one line per record with --records. A master manifest is
followed to its first variant.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			client := newUpstreamClient(cfg, log)
			defer client.CloseIdleConnections()
			return probe(cmd.Context(), cmd.OutOrStdout(), client, args[0], records, log)
		},
	}
	cmd.Flags().BoolVar(&records, "records", false, "print parsed records instead of manifest text")
	return cmd
}

func probe(ctx context.Context, out io.Writer, fetcher playlist.Fetcher, manifestURL string, records bool, log *slog.Logger) error {
	l, err := playlist.NewLoader(manifestURL, fetcher, log, nil)
	if err != nil {
		return err
	}
	if !l.Load(ctx) {
		return fmt.Errorf("probe %s: manifest not loaded", manifestURL)
	}
	if first, ok := l.Data().FirstSegment(); ok && first.IsVariant() {
		if err := l.Repoint(first.MRL); err != nil {
			return err
		}
		if !l.Load(ctx) {
			return fmt.Errorf("probe %s: variant not loaded", l.URL())
		}
	}

	m := l.Data()
	if !records {
		_, err := io.WriteString(out, playlist.Encode(m))
		return err
	}

	fmt.Fprintf(out, "# %s\n", l.URL())
	for i, rec := range m.Records {
		seq := "-"
		if rec.MediaSequence != nil {
			seq = fmt.Sprint(*rec.MediaSequence)
		}
		dur := "-"
		if rec.Inf != nil {
			dur = fmt.Sprint(rec.Inf.Duration)
		}
		if _, err := fmt.Fprintf(out, "%d\tseq=%s\tdur=%s\t%s\n", i, seq, dur, rec.MRL); err != nil {
			return err
		}
	}
	return nil
}

var _ playlist.Fetcher = (*upstream.Client)(nil)

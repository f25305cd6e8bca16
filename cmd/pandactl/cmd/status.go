package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pandactl/internal/monitor"
	"github.com/jmylchreest/pandactl/internal/observability"
	"github.com/jmylchreest/pandactl/internal/panda"
)

var statusCmd = &cobra.Command{
	Use:   "status <video-id>...",
	Short: "Show a video and the progress of its encodings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.WithOperation(slog.Default(), "status")
		client, err := newPandaClient(appConfig, logger)
		if err != nil {
			return err
		}
		for _, id := range args {
			if err := printStatus(cmd.Context(), client, id, cmd.OutOrStdout()); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusAPI interface {
	GetVideo(ctx context.Context, id string) (*panda.Video, error)
	monitor.EncodingLister
}

func printStatus(ctx context.Context, api statusAPI, id string, out io.Writer) error {
	video, err := api.GetVideo(ctx, id)
	if err != nil {
		if panda.IsNotFound(err) {
			return fmt.Errorf("video %s not found", id)
		}
		return fmt.Errorf("getting video %s: %w", id, err)
	}
	encodings, err := api.ListEncodings(ctx, panda.EncodingsPath(panda.VideoPath(id)))
	if err != nil {
		return fmt.Errorf("listing encodings of %s: %w", id, err)
	}

	fmt.Fprintf(out, "Video %s (%s): %s\n", video.ID, video.OriginalFilename, video.Status)
	if video.ErrorMessage != "" {
		fmt.Fprintf(out, "  error: %s\n", video.ErrorMessage)
	}
	if progress, err := monitor.VideoProgress(encodings); err == nil {
		fmt.Fprintf(out, "  progress: %s%%\n", progress.StringFixed(2))
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ENCODING\tPROFILE\tSTATUS\tPROGRESS")
	for _, e := range encodings {
		progress := "-"
		if e.Progress.Valid {
			progress = e.Progress.Decimal.String() + "%"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", e.ID, e.ProfileName, e.Status, progress)
	}
	return tw.Flush()
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/pandactl/internal/catalog"
	"github.com/jmylchreest/pandactl/internal/config"
	"github.com/jmylchreest/pandactl/internal/monitor"
	"github.com/jmylchreest/pandactl/internal/observability"
	"github.com/jmylchreest/pandactl/internal/upload"
)

var encodeCmd = &cobra.Command{
	Use:   "encode [flags] <video-file>...",
	Short: "Upload videos and measure how long encoding takes",
	Long: `Upload every given video file to the cloud, using all of its encoding
profiles, then poll the service until every encoding has finished and print
the total encoding time in seconds.

Sessions and uploads run in parallel, by default on twice as many workers as
there are logical CPUs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

var (
	encodeBaseDir    string
	encodeNoProgress bool
)

func init() {
	rootCmd.AddCommand(encodeCmd)

	defaults := config.Defaults()
	flags := encodeCmd.Flags()
	flags.StringVar(&encodeBaseDir, "base-dir", "", "directory the video file paths are relative to (default: working directory)")
	flags.BoolVar(&encodeNoProgress, "no-progress", false, "do not draw the progress bar")

	flags.Int("workers", defaults.Upload.Workers, "parallel sessions and uploads (0 = 2x logical CPUs)")
	flags.String("path-format", defaults.Upload.PathFormat, "storage path template for encodings")
	flags.Bool("continue-on-error", defaults.Upload.ContinueOnError, "keep going when single files fail and report them at the end")
	flags.Duration("interval", defaults.Monitor.Interval, "pause between progress checks")
	flags.Int("max-iterations", defaults.Monitor.MaxIterations, "give up after this many progress checks (0 = unlimited)")
	flags.Duration("timeout", defaults.Monitor.Timeout, "give up waiting for encodings after this long (0 = unlimited)")

	mustBindPFlag("upload.workers", flags.Lookup("workers"))
	mustBindPFlag("upload.path_format", flags.Lookup("path-format"))
	mustBindPFlag("upload.continue_on_error", flags.Lookup("continue-on-error"))
	mustBindPFlag("monitor.interval", flags.Lookup("interval"))
	mustBindPFlag("monitor.max_iterations", flags.Lookup("max-iterations"))
	mustBindPFlag("monitor.timeout", flags.Lookup("timeout"))
}

func runEncode(cmd *cobra.Command, args []string) error {
	logger := observability.WithOperation(slog.Default(), "encode")

	client, err := newPandaClient(appConfig, logger)
	if err != nil {
		return err
	}

	return encodeVideos(cmd.Context(), encodeRequest{
		Config:     appConfig,
		API:        client,
		Fs:         afero.NewOsFs(),
		BaseDir:    encodeBaseDir,
		Paths:      args,
		NoProgress: encodeNoProgress,
	}, cmd.OutOrStdout(), logger)
}

// encodeAPI is what the encode workflow needs from the service.
type encodeAPI interface {
	upload.API
	monitor.EncodingLister
}

type encodeRequest struct {
	Config     *config.Config
	API        encodeAPI
	Fs         afero.Fs
	BaseDir    string
	Paths      []string
	NoProgress bool
}

// encodeVideos uploads the requested files and waits for their encodings.
// With continue-on-error the videos that did upload are still monitored and
// the upload failures are returned once encoding has finished.
func encodeVideos(ctx context.Context, req encodeRequest, out io.Writer, logger *slog.Logger) (err error) {
	done := observability.TimedOperationWithError(ctx, logger, "encode", &err)
	defer done()

	files, err := catalog.Load(req.Fs, req.BaseDir, req.Paths)
	if err != nil {
		return err
	}
	logger.Info("uploading videos",
		slog.Int("files", len(files)),
		slog.Int64("bytes", catalog.TotalSize(files)),
	)

	cfg := req.Config
	videos, uploadErr := upload.NewUploader(req.API, req.Fs, upload.Options{
		Workers:         cfg.Upload.Workers,
		ContinueOnError: cfg.Upload.ContinueOnError,
		PathFormat:      cfg.Upload.PathFormat,
	}).
		WithLogger(observability.WithComponent(logger, "upload")).
		WithObserver(newConsole(out)).
		Run(ctx, files)
	if uploadErr != nil {
		if len(videos) == 0 {
			return uploadErr
		}
		observability.WithError(logger, uploadErr).Warn("some videos failed to upload, monitoring the rest",
			slog.Int("uploaded", len(videos)),
			slog.Int("requested", len(files)),
		)
	}

	var onTick func(int)
	var bar *progressBar
	if !req.NoProgress {
		bar = newProgressBar(out, "Processing")
		onTick = bar.Update
	}

	res, err := monitor.NewPoller(req.API, monitor.Config{
		Interval:      cfg.Monitor.Interval,
		MaxIterations: cfg.Monitor.MaxIterations,
		Timeout:       cfg.Monitor.Timeout,
	}).
		WithLogger(observability.WithComponent(logger, "monitor")).
		Run(ctx, videos, onTick)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return errors.Join(uploadErr, err)
	}

	fmt.Fprintf(out, "Encoding took %d seconds\n", res.Seconds)
	return uploadErr
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/pandactl/internal/config"
	"github.com/jmylchreest/pandactl/internal/observability"
	"github.com/jmylchreest/pandactl/internal/profiles"
	"github.com/jmylchreest/pandactl/internal/scheduler"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize encoding profiles with the cloud",
	Long: `Synchronize the profiles declared in the profiles file to the cloud.

Each section of the file declares one profile, named after the section:

  [h264.720p]
  extname = .mp4
  width = 1280
  height = 720

Profiles that already exist on the cloud are updated, missing ones are
created. Profiles that are only defined on the cloud are left untouched.

With --schedule the synchronization repeats on a cron schedule, for example
"@every 1h" or "0 3 * * *", until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var syncDryRun bool

func init() {
	rootCmd.AddCommand(syncCmd)

	defaults := config.Defaults()
	flags := syncCmd.Flags()
	flags.BoolVar(&syncDryRun, "dry-run", false, "print what would change without changing anything")
	flags.String("profiles-file", defaults.Sync.ProfilesFile, "file declaring the profiles to synchronize")
	flags.Bool("skip-unchanged", defaults.Sync.SkipUnchanged, "do not send updates that would change nothing")
	flags.String("schedule", defaults.Sync.Schedule, "cron schedule to repeat the synchronization on")

	mustBindPFlag("sync.profiles_file", flags.Lookup("profiles-file"))
	mustBindPFlag("sync.skip_unchanged", flags.Lookup("skip-unchanged"))
	mustBindPFlag("sync.schedule", flags.Lookup("schedule"))
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger := observability.WithOperation(slog.Default(), "sync")
	out := cmd.OutOrStdout()

	client, err := newPandaClient(appConfig, logger)
	if err != nil {
		return err
	}

	job := func(ctx context.Context) error {
		return syncProfiles(ctx, appConfig.Sync, client, syncDryRun, out, logger)
	}

	if appConfig.Sync.Schedule == "" {
		if err := job(cmd.Context()); err != nil {
			// Already reported on out.
			cmd.SilenceErrors = true
			return err
		}
		return nil
	}
	return scheduler.NewScheduler().
		WithLogger(observability.WithComponent(logger, "scheduler")).
		Run(cmd.Context(), appConfig.Sync.Schedule, job)
}

// syncProfiles loads the declared profiles and reconciles them. The profiles
// file is re-read on every call so scheduled runs pick up edits.
func syncProfiles(ctx context.Context, cfg config.SyncConfig, api profiles.API, dryRun bool, out io.Writer, logger *slog.Logger) (err error) {
	done := observability.TimedOperationWithError(ctx, logger, "sync", &err)
	defer done()

	desired, err := profiles.LoadFile(cfg.ProfilesFile)
	if err != nil {
		return err
	}

	report, err := profiles.NewReconciler(api, profiles.Options{
		SkipUnchanged: cfg.SkipUnchanged,
		DryRun:        dryRun,
	}).
		WithLogger(observability.WithComponent(logger, "profiles")).
		WithObserver(newConsole(out)).
		Run(ctx, desired)
	if err != nil {
		fmt.Fprintf(out, "Failed to synchronize profiles: %s\n", err)
		return err
	}

	logger.Info("profiles synchronized",
		slog.Int("declared", len(desired)),
		slog.Int("updated", report.Updated()),
		slog.Int("created", report.Created()),
		slog.Bool("dry_run", report.DryRun),
	)
	return nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangashelf/internal/app"
	"github.com/JakeFAU/mangashelf/internal/batch"
	"github.com/JakeFAU/mangashelf/internal/config"
	"github.com/JakeFAU/mangashelf/internal/logging"
)

// errAllFailed makes the process exit non-zero when no source succeeded.
var errAllFailed = errors.New("every source failed")

type sessionKeyType string

const sessionKey sessionKeyType = "session"

// session is built before any subcommand runs.
type session struct {
	cfg    config.Config
	logger *zap.Logger
}

// Archiver is what the root command drives. *app.App satisfies it.
type Archiver interface {
	RunOnce(ctx context.Context, sourceURL string, fullReset bool) (batch.SweepReport, error)
	RunSelfService(ctx context.Context, fullReset bool) error
	Close()
}

// newArchiver is a variable so tests can swap in a fake.
var newArchiver = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Archiver, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

type rootFlags struct {
	configFile  string
	sourceURL   string
	fullReset   bool
	selfService bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:   "mangashelf",
		Short: "Archive manga chapters from a reader site as CBZ files.",
		Long: `mangashelf renders a manga source page, lists its chapters and archives every
chapter not yet on the shelf as a CBZ file, oldest first. Without --url every
source in the URL list file is processed. --self-service keeps sweeping the list,
waking early when the file changes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), sessionKey, &session{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if s, ok := cmd.Context().Value(sessionKey).(*session); ok {
				_ = s.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (default searches ./mangashelf.yaml)")
	cmd.Flags().StringVar(&flags.sourceURL, "url", "", "archive a single source instead of the URL list")
	cmd.Flags().BoolVar(&flags.fullReset, "full-reset", false, "re-archive chapters already on the shelf")
	cmd.Flags().BoolVar(&flags.selfService, "self-service", false, "sweep the URL list forever, waking on edits")
	cmd.MarkFlagsMutuallyExclusive("url", "self-service")

	cmd.AddCommand(newListCmd())
	return cmd
}

func runArchive(cmd *cobra.Command, flags rootFlags) error {
	s, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	archiver, err := newArchiver(ctx, s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}
	defer archiver.Close()

	if flags.selfService {
		if err := archiver.RunSelfService(ctx, flags.fullReset); err != nil {
			return err
		}
		s.logger.Info("self-service stopped")
		return nil
	}

	report, err := archiver.RunOnce(ctx, flags.sourceURL, flags.fullReset)
	if err != nil {
		return err
	}
	if len(report.Sources) > 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderReport(report))
	}
	if ctx.Err() != nil {
		s.logger.Info("interrupted", zap.Int("archived", report.Archived()))
		return nil
	}
	if report.AllFailed() {
		return errAllFailed
	}
	return nil
}

func renderReport(report batch.SweepReport) string {
	rows := make([][]string, 0, len(report.Sources))
	for _, src := range report.Sources {
		status := src.Result.Status
		switch {
		case src.Err != nil:
			status = "error: " + src.Err.Error()
		case src.Result.Reason != nil:
			status += " (" + src.Result.Reason.Error() + ")"
		}
		rows = append(rows, []string{
			src.Result.SourceURL,
			src.Result.Title,
			firstNonEmpty(src.Result.SeriesStatus, "-"),
			status,
			fmt.Sprint(src.Result.Archived),
			fmt.Sprint(src.Result.Skipped),
			fmt.Sprint(src.Result.Retries),
		})
	}
	return renderTable(
		[]string{"Source", "Title", "Series", "Status", "Archived", "Skipped", "Retries"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func resolveSession(ctx context.Context) (*session, error) {
	s, ok := ctx.Value(sessionKey).(*session)
	if !ok || s == nil {
		return nil, errors.New("configuration not loaded")
	}
	return s, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "mangashelf:", err)
		return 1
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

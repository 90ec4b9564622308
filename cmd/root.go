package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/autorebase/internal/classify"
	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/models"
	"github.com/joescharf/autorebase/internal/output"
	"github.com/joescharf/autorebase/internal/rebase"
	"github.com/joescharf/autorebase/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui           *output.UI
	historyStore store.HistoryStore

	verbose        bool
	dryRun         bool
	forcePush      bool
	nonInteractive bool
	resumeFlag     bool
	statusFlag     bool
	watchFlag      bool
	abortFlag      bool
	cleanupFlag    bool
)

// Process exit codes.
const (
	exitOK          = 0
	exitConflicts   = 1
	exitFailure     = 2
	exitInterrupted = 130
)

// errConflicts reports a session stopped for manual conflict resolution.
var errConflicts = errors.New("conflicts need manual resolution; fix them, `git add` the files, then run `autorebase --resume`")

var rootCmd = &cobra.Command{
	Use:   "autorebase [target-branch]",
	Short: "Resumable rebase with automatic conflict resolution",
	Long: `autorebase rebases the current branch onto a target branch, resolves
conflicts per file using path-based strategies, and checkpoints its progress
in .rebase-state/ so an interrupted run can be resumed.

  autorebase main              rebase the current branch onto main
  autorebase main --force      ...and push with --force-with-lease
  autorebase --resume          continue an interrupted or stopped session
  autorebase --status --watch  follow the progress of a running session
  autorebase --abort           abort the rebase and discard the session`,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	code := exitCode(err)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, errConflicts), errors.Is(err, rebase.ErrSessionExists):
		return exitConflicts
	default:
		return exitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return rootRun(cmd, args)
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	pf.BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	pf.String("config", "", "Config file (default ~/.config/autorebase/config.yaml)")

	f := rootCmd.Flags()
	f.BoolVarP(&forcePush, "force", "f", false, "Push the rebased branch with --force-with-lease")
	f.StringP("mode", "m", "smart", "Conflict handling: interactive, automated or smart")
	f.BoolVarP(&nonInteractive, "yes", "y", false, "Never prompt; fail instead of asking to resume")
	f.BoolVar(&nonInteractive, "non-interactive", false, "Alias for --yes")
	f.String("remote", "origin", "Remote to fetch from and push to")
	f.BoolVar(&resumeFlag, "resume", false, "Resume the persisted session")
	f.BoolVar(&statusFlag, "status", false, "Show the persisted session")
	f.BoolVarP(&watchFlag, "watch", "w", false, "With --status, follow progress until the session ends")
	f.BoolVar(&abortFlag, "abort", false, "Abort the rebase and discard the session")
	f.BoolVar(&cleanupFlag, "cleanup", false, "Discard the persisted session without touching git")

	_ = viper.BindPFlag("mode", f.Lookup("mode"))
	_ = viper.BindPFlag("remote", f.Lookup("remote"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(exitFailure)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("AUTOREBASE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers the default for every config key.
func setDefaults() {
	dir, _ := configDirFunc()
	viper.SetDefault("mode", string(models.ModeSmart))
	viper.SetDefault("non_interactive", false)
	viper.SetDefault("remote", "origin")
	viper.SetDefault("git_timeout", "0s")
	viper.SetDefault("history_db", filepath.Join(dir, "history.db"))
	viper.SetDefault("classifier.rules", []string{})
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun
}

// validateFlags enforces that the session switches exclude each other and
// the positional target.
func validateFlags(args []string) error {
	switches := []struct {
		name string
		on   bool
	}{
		{"--resume", resumeFlag},
		{"--status", statusFlag},
		{"--abort", abortFlag},
		{"--cleanup", cleanupFlag},
	}
	var set []string
	for _, s := range switches {
		if s.on {
			set = append(set, s.name)
		}
	}
	if len(set) > 1 {
		return fmt.Errorf("only one of --resume, --status, --abort and --cleanup may be given")
	}
	if len(set) == 1 && len(args) > 0 {
		return fmt.Errorf("%s does not take a target branch", set[0])
	}
	if watchFlag && !statusFlag {
		return fmt.Errorf("--watch requires --status")
	}
	if len(set) == 0 && len(args) == 0 {
		return fmt.Errorf("a target branch is required (or one of --resume, --status, --abort, --cleanup)")
	}
	return nil
}

func rootRun(cmd *cobra.Command, args []string) error {
	if err := validateFlags(args); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	root, err := repoRoot(ctx)
	if err != nil {
		return err
	}

	if statusFlag {
		return statusRun(ctx, root)
	}

	o, err := newOrchestrator(root)
	if err != nil {
		return err
	}

	switch {
	case cleanupFlag:
		return o.Cleanup()
	case abortFlag:
		_, err := o.Abort(ctx)
		return err
	case resumeFlag:
		return outcomeErr(o.Resume(ctx))
	default:
		return outcomeErr(o.Run(ctx, args[0]))
	}
}

func outcomeErr(outcome rebase.Outcome, err error) error {
	if err != nil {
		return err
	}
	if outcome == rebase.OutcomeConflicts {
		return errConflicts
	}
	return nil
}

// repoRoot resolves the top level of the repository containing the cwd.
func repoRoot(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	root, err := git.NewClient(cwd, gitTimeout()).RepoRoot(ctx)
	if err != nil {
		return "", fmt.Errorf("not inside a git repository: %w", err)
	}
	return root, nil
}

func gitTimeout() time.Duration {
	return viper.GetDuration("git_timeout")
}

// runConfig folds flags and config into the configuration a new session is
// created with.
func runConfig() (models.RunConfig, error) {
	mode, err := models.ParseMode(viper.GetString("mode"))
	if err != nil {
		return models.RunConfig{}, err
	}
	cfg := models.RunConfig{
		ForcePush:      forcePush,
		DryRun:         dryRun,
		Verbose:        verbose,
		Mode:           mode,
		NonInteractive: nonInteractive || viper.GetBool("non_interactive"),
		Remote:         viper.GetString("remote"),
	}
	if rules := viper.GetStringSlice("classifier.rules"); len(rules) > 0 {
		if _, err := classify.ParseRules(rules); err != nil {
			return models.RunConfig{}, fmt.Errorf("classifier.rules: %w", err)
		}
		cfg.ClassifierRules = rules
	}
	return cfg, nil
}

func newOrchestrator(root string) (*rebase.Orchestrator, error) {
	cfg, err := runConfig()
	if err != nil {
		return nil, err
	}
	opts := rebase.Options{
		Git:    git.NewClient(root, gitTimeout()),
		Root:   root,
		Config: cfg,
		UI:     ui,
	}
	if !dryRun {
		if hs, err := getHistoryStore(); err != nil {
			ui.VerboseLog("Session history disabled: %v", err)
		} else {
			opts.History = hs
		}
	}
	return rebase.New(opts), nil
}

// getHistoryStore returns the shared history store, initializing it on first call.
func getHistoryStore() (store.HistoryStore, error) {
	if historyStore != nil {
		return historyStore, nil
	}

	dbPath := viper.GetString("history_db")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	historyStore = s
	return historyStore, nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/autorebase/internal/output"
)

var (
	historyLimit int
	historyAll   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List finished rebase sessions",
	Long: `List rebase sessions recorded in the history database.

By default only sessions of the current repository are shown.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd.Context())
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of sessions to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyAll, "all", false, "Show sessions from every repository")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := getHistoryStore()
	if err != nil {
		return err
	}

	repo := ""
	if !historyAll {
		if repo, err = repoRoot(ctx); err != nil {
			return err
		}
	}

	entries, err := s.ListSessions(ctx, repo, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No rebase sessions recorded yet")
		return nil
	}

	headers := []string{"Finished", "Source", "Target", "Outcome", "Commits", "Conflicts", "Pushed", "Backup"}
	if historyAll {
		headers = append(headers, "Repository")
	}
	table := ui.Table(headers)
	home, _ := os.UserHomeDir()
	for _, e := range entries {
		pushed := "no"
		if e.ForcePush {
			pushed = "yes"
		}
		row := []string{
			e.FinishedAt.Local().Format("2006-01-02 15:04"),
			e.SourceBranch,
			e.TargetBranch,
			output.PhaseColor(string(e.Outcome)),
			strconv.Itoa(e.Commits),
			fmt.Sprintf("%d/%d", e.ResolvedConflicts, e.Conflicts),
			pushed,
			e.BackupBranch,
		}
		if historyAll {
			row = append(row, shortenHome(e.RepoPath, home))
		}
		_ = table.Append(row)
	}
	_ = table.Render()
	return nil
}

// shortenHome abbreviates a path under home to ~/...
func shortenHome(path, home string) string {
	if home == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, home+string(os.PathSeparator)); ok {
		return "~" + string(os.PathSeparator) + rest
	}
	return path
}

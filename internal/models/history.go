package models

import "time"

// HistoryEntry is the archived outcome of a finished session.
type HistoryEntry struct {
	ID                string
	SessionID         string
	RepoPath          string
	SourceBranch      string
	TargetBranch      string
	BackupBranch      string
	Outcome           Phase
	Commits           int
	Conflicts         int
	ResolvedConflicts int
	ForcePush         bool
	StartedAt         time.Time
	FinishedAt        time.Time
}

// NewHistoryEntry summarizes sess for the history table.
func NewHistoryEntry(sess *Session, repoPath string) *HistoryEntry {
	resolved := 0
	for _, c := range sess.Conflicts {
		if c.Resolved {
			resolved++
		}
	}
	return &HistoryEntry{
		SessionID:         sess.SessionID,
		RepoPath:          repoPath,
		SourceBranch:      sess.SourceBranch,
		TargetBranch:      sess.TargetBranch,
		BackupBranch:      sess.BackupBranch,
		Outcome:           sess.Phase,
		Commits:           sess.TotalCommits,
		Conflicts:         len(sess.Conflicts),
		ResolvedConflicts: resolved,
		ForcePush:         sess.Config.ForcePush,
		StartedAt:         sess.CreatedAt,
	}
}

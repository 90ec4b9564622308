package models

// Strategy is the policy used to resolve one conflicted file.
type Strategy string

const (
	StrategyPreferIncoming Strategy = "PREFER_INCOMING"
	StrategyPreferCurrent  Strategy = "PREFER_CURRENT"
	StrategySmartMerge     Strategy = "SMART_MERGE"
	StrategyAutoResolve    Strategy = "AUTO_RESOLVE"
	StrategySaveBoth       Strategy = "SAVE_BOTH"
	StrategyManualReview   Strategy = "MANUAL_REVIEW"
)

// Strategies lists every strategy in display order.
var Strategies = []Strategy{
	StrategyPreferIncoming,
	StrategyPreferCurrent,
	StrategySmartMerge,
	StrategyAutoResolve,
	StrategySaveBoth,
	StrategyManualReview,
}

// Valid reports whether s is one of the known strategies.
func (s Strategy) Valid() bool {
	for _, known := range Strategies {
		if s == known {
			return true
		}
	}
	return false
}

// RewritesContent reports whether resolving with s rewrites the working file
// from parsed or fetched content, which requires a file backup first.
func (s Strategy) RewritesContent() bool {
	return s == StrategyAutoResolve || s == StrategySmartMerge || s == StrategySaveBoth
}

// ConflictFile tracks one conflicted path within a rebase attempt.
type ConflictFile struct {
	Path             string   `json:"path"`
	Strategy         Strategy `json:"strategy"`
	Resolved         bool     `json:"resolved"`
	ResolutionMethod string   `json:"resolution_method,omitempty"`
	BackupCreated    bool     `json:"backup_created"`
	BackupPath       string   `json:"backup_path,omitempty"`
	ErrorMessage     string   `json:"error_message,omitempty"`
	Attempt          int      `json:"attempt"`
}

// MarkResolved flips the entry to resolved. It never reverts.
func (c *ConflictFile) MarkResolved(method string) {
	c.Resolved = true
	c.ResolutionMethod = method
	c.ErrorMessage = ""
}

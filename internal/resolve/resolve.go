package resolve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joescharf/autorebase/internal/git"
	"github.com/joescharf/autorebase/internal/models"
)

// Resolver applies a strategy to one conflicted file and stages the result.
type Resolver struct {
	git  git.Client
	root string
}

// New returns a Resolver for the repository at root.
func New(gc git.Client, root string) *Resolver {
	return &Resolver{git: gc, root: root}
}

// Resolve dispatches on strategy. resolved is false for MANUAL_REVIEW and on
// error; errors are scoped to this file.
func (r *Resolver) Resolve(ctx context.Context, path string, strategy models.Strategy) (bool, string, error) {
	switch strategy {
	case models.StrategyPreferIncoming:
		return r.checkoutSide(ctx, path, git.Theirs, "took incoming version (checkout --theirs)")
	case models.StrategyPreferCurrent:
		return r.checkoutSide(ctx, path, git.Ours, "kept current version (checkout --ours)")
	case models.StrategyAutoResolve, models.StrategySmartMerge:
		return r.mergeContent(ctx, path, strategy)
	case models.StrategySaveBoth:
		return r.saveBoth(ctx, path)
	case models.StrategyManualReview:
		return false, "manual review required", nil
	default:
		return false, "", fmt.Errorf("unknown strategy %q", strategy)
	}
}

func (r *Resolver) checkoutSide(ctx context.Context, path string, side git.Side, method string) (bool, string, error) {
	if err := r.git.Checkout(ctx, side, path); err != nil {
		return false, "", fmt.Errorf("checkout %s %s: %w", side, path, err)
	}
	if err := r.git.Add(ctx, path); err != nil {
		return false, "", fmt.Errorf("stage %s: %w", path, err)
	}
	return true, method, nil
}

func (r *Resolver) mergeContent(ctx context.Context, path string, strategy models.Strategy) (bool, string, error) {
	full := filepath.Join(r.root, path)
	info, err := os.Stat(full)
	if err != nil {
		return false, "", fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return false, "", fmt.Errorf("read %s: %w", path, err)
	}

	segs, err := ParseBlocks(string(data))
	if err != nil {
		return false, "", fmt.Errorf("%s: %w", path, err)
	}

	kind, fn := blockResolver(path, strategy)
	resolved := Render(segs, fn)

	if err := os.WriteFile(full, []byte(resolved), info.Mode().Perm()); err != nil {
		return false, "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := r.git.Add(ctx, path); err != nil {
		return false, "", fmt.Errorf("stage %s: %w", path, err)
	}

	blocks := 0
	for _, s := range segs {
		if s.Block != nil {
			blocks++
		}
	}
	return true, fmt.Sprintf("%s: %s across %d block(s)", strings.ToLower(string(strategy)), kind, blocks), nil
}

// SidecarPaths names the untracked copies SAVE_BOTH writes next to path:
// the current side, then the incoming side.
func SidecarPaths(path string) (current, incoming string) {
	return path + ".current", path + ".incoming"
}

// saveBoth preserves both sides next to the file and defaults the working
// copy to the incoming side. The file still needs a human look.
func (r *Resolver) saveBoth(ctx context.Context, path string) (bool, string, error) {
	full := filepath.Join(r.root, path)
	curPath, incPath := SidecarPaths(path)

	current, curErr := r.git.Show(ctx, "HEAD", path)
	incoming, incErr := r.showIncoming(ctx, path)
	if curErr != nil && incErr != nil {
		return false, "", fmt.Errorf("read either side of %s: %w", path, incErr)
	}

	if curErr == nil {
		if err := os.WriteFile(filepath.Join(r.root, curPath), current, 0o644); err != nil {
			return false, "", fmt.Errorf("write %s: %w", curPath, err)
		}
	}
	if incErr == nil {
		if err := os.WriteFile(filepath.Join(r.root, incPath), incoming, 0o644); err != nil {
			return false, "", fmt.Errorf("write %s: %w", incPath, err)
		}
	}

	chosen, side := incoming, "incoming"
	if incErr != nil {
		chosen, side = current, "current"
	}
	if err := os.WriteFile(full, chosen, 0o644); err != nil {
		return false, "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := r.git.Add(ctx, path); err != nil {
		return false, "", fmt.Errorf("stage %s: %w", path, err)
	}
	return true, fmt.Sprintf("saved both sides (%s, %s); using %s version, REVIEW REQUIRED", curPath, incPath, side), nil
}

// showIncoming reads the side being applied. A merge records MERGE_HEAD; a
// rebase stop records REBASE_HEAD.
func (r *Resolver) showIncoming(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for _, ref := range []string{"MERGE_HEAD", "REBASE_HEAD"} {
		data, err := r.git.Show(ctx, ref, path)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

var (
	proseExts  = map[string]bool{".md": true, ".markdown": true, ".txt": true, ".rst": true}
	sourceExts = map[string]bool{
		".go": true, ".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
		".sh": true, ".rb": true, ".java": true, ".rs": true, ".c": true, ".h": true, ".cpp": true,
	}
)

// blockResolver picks the per-block merge by file type.
func blockResolver(path string, strategy models.Strategy) (string, func(*Block) []string) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case proseExts[ext]:
		return "line union", func(b *Block) []string { return unionLines(b.Incoming, b.Current) }
	case sourceExts[ext]:
		return "incoming plus local imports/comments", func(b *Block) []string { return incomingKeepLocal(b.Incoming, b.Current) }
	case strategy == models.StrategySmartMerge:
		return "line union", func(b *Block) []string { return unionLines(b.Incoming, b.Current) }
	default:
		return "incoming", func(b *Block) []string { return append([]string(nil), b.Incoming...) }
	}
}

func lineKey(l string) string { return strings.TrimRight(l, "\r\n") }

// unionLines returns first followed by the lines of second not already present.
func unionLines(first, second []string) []string {
	out := make([]string, 0, len(first)+len(second))
	seen := make(map[string]bool, len(first)+len(second))
	for _, l := range first {
		out = append(out, l)
		seen[lineKey(l)] = true
	}
	for _, l := range second {
		if k := lineKey(l); !seen[k] {
			out = append(out, l)
			seen[k] = true
		}
	}
	return out
}

// incomingKeepLocal prefers incoming and re-adds current-only import and
// comment lines.
func incomingKeepLocal(incoming, current []string) []string {
	out := append([]string(nil), incoming...)
	seen := make(map[string]bool, len(incoming))
	for _, l := range incoming {
		seen[strings.TrimSpace(l)] = true
	}
	for _, l := range current {
		k := strings.TrimSpace(l)
		if seen[k] || !isImportOrComment(k) {
			continue
		}
		out = append(out, l)
		seen[k] = true
	}
	return out
}

var importSpec = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*\s+|[._]\s+)?"[^"]+"$`)

var importPrefixes = []string{
	"import ", "import(", "from ", "#include", "require ", "require(", "use ",
	"//", "/*", "#",
}

func isImportOrComment(line string) bool {
	if line == "" {
		return false
	}
	for _, p := range importPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return importSpec.MatchString(line)
}

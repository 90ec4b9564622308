package rebase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/joescharf/autorebase/internal/models"
	"github.com/joescharf/autorebase/internal/resolve"
)

var reportFuncs = template.FuncMap{
	"code": func(s string) string { return "`" + s + "`" },
	"fallback": func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	},
	"cell": func(s string) string { return strings.ReplaceAll(s, "|", `\|`) },
}

const recoveryTemplate = `# Rebase recovery instructions

Session {{ code .SessionID }} stopped at **{{ .Phase }}** ({{ .Step }}).

- Source branch: {{ code .SourceBranch }}
- Target branch: {{ code .TargetBranch }}
- Backup branch: {{ code (fallback .BackupBranch "none yet") }}
- Progress: {{ .ProcessedCommits }}/{{ .TotalCommits }} commits ({{ .ProgressPercent }}%)
{{ with .Unresolved }}
## Files needing attention

| File | Strategy | Problem | Backup |
|------|----------|---------|--------|
{{- range . }}
| {{ code .Path }} | {{ .Strategy }} | {{ cell (fallback .ErrorMessage "manual review required") }} | {{ fallback .BackupPath "-" }} |
{{- end }}
{{ end }}
{{- with .ErrorMessages }}
## Errors
{{ range . }}
- {{ . }}
{{- end }}
{{ end }}
## Next steps
{{ range .RecoveryInstructions }}
- {{ . }}
{{- end }}
`

const summaryTemplate = `# Rebase summary

Rebased {{ code .SourceBranch }} onto {{ code .TargetBranch }} in session {{ code .SessionID }}.

- Commits: {{ .TotalCommits }}
- Conflicts resolved: {{ .ResolvedConflictCount }}/{{ len .Conflicts }}
- Backup branch: {{ code .BackupBranch }}
- Pushed: {{ if .Config.ForcePush }}yes{{ else }}no{{ end }}
- Mode: {{ .Config.Mode }}
{{ with .Conflicts }}
## Conflicts

| Attempt | File | Strategy | Resolution | Backup |
|---------|------|----------|------------|--------|
{{- range . }}
| {{ .Attempt }} | {{ code .Path }} | {{ .Strategy }} | {{ cell (fallback .ResolutionMethod "-") }} | {{ fallback .BackupPath "-" }} |
{{- end }}

File backups are kept in {{ code $.BackupDir }}.
{{ end }}
{{- with .Sidecars }}
## Files to delete after review

Both sides of these conflicts were saved next to the resolved file. They are
untracked and must be removed before the next rebase.
{{ range . }}
- {{ code . }}
{{- end }}
{{ end }}
## Session

` + "```json\n{{ .JSON }}\n```\n"

var (
	recoveryTmpl = template.Must(template.New("recovery").Funcs(reportFuncs).Parse(recoveryTemplate))
	summaryTmpl  = template.Must(template.New("summary").Funcs(reportFuncs).Parse(summaryTemplate))
)

type reportData struct {
	*models.Session
	Unresolved []*models.ConflictFile
	Sidecars   []string
	BackupDir  string
	JSON       string
}

func renderRecovery(sess *models.Session) ([]byte, error) {
	var buf bytes.Buffer
	data := reportData{Session: sess, Unresolved: sess.UnresolvedConflicts()}
	if err := recoveryTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render recovery instructions: %w", err)
	}
	return buf.Bytes(), nil
}

func renderSummary(sess *models.Session, backupDir string, sidecars []string) ([]byte, error) {
	dump, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	var buf bytes.Buffer
	data := reportData{Session: sess, Sidecars: sidecars, BackupDir: backupDir, JSON: string(dump)}
	if err := summaryTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render summary: %w", err)
	}
	return buf.Bytes(), nil
}

// sidecars lists the SAVE_BOTH copies still present in the working tree.
func (o *Orchestrator) sidecars() []string {
	var out []string
	for _, cf := range o.sess.Conflicts {
		if cf.Strategy != models.StrategySaveBoth {
			continue
		}
		cur, inc := resolve.SidecarPaths(cf.Path)
		for _, p := range []string{cur, inc} {
			if _, err := os.Stat(filepath.Join(o.root, p)); err == nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// writeRecovery regenerates the recovery instructions file.
func (o *Orchestrator) writeRecovery() error {
	content, err := renderRecovery(o.sess)
	if err != nil {
		return err
	}
	return o.state.WriteRecovery(content)
}

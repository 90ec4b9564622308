package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI provides colored output and respects verbose/dry-run modes.
// When Log is set, every message is also appended to it as a plain
// timestamped line.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
	Log     io.Writer
	In      io.Reader

	now    func() time.Time
	reader *bufio.Reader
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
		In:     os.Stdin,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("\u2713")
	warningPrefix = color.New(color.FgHiYellow).Sprint("\u26a0")
	errorPrefix   = color.New(color.FgHiRed).Sprint("\u2717")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  \u2192")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// PhaseColor returns the phase name colored by how it ended.
func PhaseColor(phase string) string {
	switch strings.ToUpper(phase) {
	case "COMPLETE":
		return green(phase)
	case "CONFLICT_RESOLUTION":
		return yellow(phase)
	case "FAILED", "ABORTED":
		return red(phase)
	default:
		return cyan(phase)
	}
}

// ProgressColor returns a percentage colored by completeness.
func ProgressColor(pct int) string {
	s := fmt.Sprintf("%d%%", pct)
	switch {
	case pct >= 100:
		return green(s)
	case pct >= 50:
		return yellow(s)
	default:
		return cyan(s)
	}
}

// ResolvedColor renders a conflict's resolved flag.
func ResolvedColor(resolved bool) string {
	if resolved {
		return green("yes")
	}
	return red("no")
}

func (u *UI) Info(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, msg)
	u.logLine("INFO", msg)
}

func (u *UI) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, msg)
	u.logLine("OK", msg)
}

func (u *UI) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, msg)
	u.logLine("WARN", msg)
}

func (u *UI) Error(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, msg)
	u.logLine("ERROR", msg)
}

// VerboseLog prints only in verbose mode but always reaches the log file.
func (u *UI) VerboseLog(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, msg)
	}
	u.logLine("DEBUG", msg)
}

func (u *UI) logLine(level, msg string) {
	if u.Log == nil {
		return
	}
	now := time.Now
	if u.now != nil {
		now = u.now
	}
	fmt.Fprintf(u.Log, "%s [%s] %s\n", now().UTC().Format(time.RFC3339), level, msg)
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Ask prints question and returns the trimmed answer line. EOF with no
// input returns "".
func (u *UI) Ask(question string) (string, error) {
	if u.In == nil {
		return "", fmt.Errorf("no input available for prompt: %s", question)
	}
	if u.reader == nil {
		u.reader = bufio.NewReader(u.In)
	}
	fmt.Fprintf(u.Out, "%s %s ", color.New(color.FgHiMagenta).Sprint("?"), question)
	line, err := u.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", nil
		}
		return "", err
	}
	answer := strings.TrimSpace(line)
	u.logLine("PROMPT", question+" "+answer)
	return answer, nil
}

// Confirm asks a yes/no question; anything but y/yes is no.
func (u *UI) Confirm(question string) (bool, error) {
	answer, err := u.Ask(question + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

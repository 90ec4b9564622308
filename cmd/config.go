package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/autorebase/internal/classify"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "autorebase"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage autorebase configuration.

Running bare 'autorebase config' is the same as 'autorebase config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# autorebase configuration
# See: autorebase config show (for effective values and sources)

# Conflict handling: interactive, automated or smart (default: smart)
mode: {{ .Mode }}

# Never prompt; refuse to start when an unfinished session exists (default: false)
non_interactive: {{ .NonInteractive }}

# Remote to fetch from and push to with --force (default: origin)
remote: {{ .Remote }}

# Per-command git timeout, e.g. 30s or 2m; 0s means no limit
git_timeout: {{ .GitTimeout }}

# SQLite database recording finished sessions (default: ~/.config/autorebase/history.db)
# history_db: {{ .HistoryDB }}

# Classifier rules evaluated before the built-in ones, as "regexp=STRATEGY".
# Strategies: PREFER_INCOMING, PREFER_CURRENT, SMART_MERGE, AUTO_RESOLVE,
# SAVE_BOTH, MANUAL_REVIEW
classifier:
  rules:{{ if not .Rules }} []{{ end }}
{{- range .Rules }}
    - '{{ . }}'
{{- end }}
`

type configTemplateData struct {
	Mode           string
	NonInteractive bool
	Remote         string
	GitTimeout     string
	HistoryDB      string
	Rules          []string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		Mode:           viper.GetString("mode"),
		NonInteractive: viper.GetBool("non_interactive"),
		Remote:         viper.GetString("remote"),
		GitTimeout:     viper.GetDuration("git_timeout").String(),
		HistoryDB:      viper.GetString("history_db"),
		Rules:          viper.GetStringSlice("classifier.rules"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "mode", EnvVar: "AUTOREBASE_MODE"},
	{Key: "non_interactive", EnvVar: "AUTOREBASE_NON_INTERACTIVE"},
	{Key: "remote", EnvVar: "AUTOREBASE_REMOTE"},
	{Key: "git_timeout", EnvVar: "AUTOREBASE_GIT_TIMEOUT"},
	{Key: "history_db", EnvVar: "AUTOREBASE_HISTORY_DB"},
	{Key: "classifier.rules", EnvVar: "AUTOREBASE_CLASSIFIER_RULES"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-18s %v  %s\n", k.Key, val, source)
	}

	rules, err := classify.ParseRules(viper.GetStringSlice("classifier.rules"))
	if err != nil {
		ui.Warning("classifier.rules: %v", err)
		rules = nil
	}
	fmt.Fprintln(ui.Out)
	ui.Info("Classifier rules (first match wins):")
	table := ui.Table([]string{"#", "Pattern", "Strategy", "Source"})
	cl := classify.New(rules...)
	for i, r := range cl.Rules() {
		source := "built-in"
		if i < len(rules) {
			source = "config"
		}
		_ = table.Append([]string{strconv.Itoa(i + 1), r.Pattern.String(), string(r.Strategy), source})
	}
	_ = table.Render()

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'autorebase config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}

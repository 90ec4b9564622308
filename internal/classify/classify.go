package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/joescharf/autorebase/internal/models"
)

// Rule maps a path pattern to a strategy.
type Rule struct {
	Pattern  *regexp.Regexp
	Strategy models.Strategy
}

// DefaultRules are evaluated top to bottom; the first match wins. Order
// matters where patterns overlap: test files must precede the generic Go rule,
// lock files the generic JSON/YAML rule.
var DefaultRules = []Rule{
	{regexp.MustCompile(`_test\.go$`), models.StrategyPreferCurrent},
	{regexp.MustCompile(`(^|/)go\.sum$`), models.StrategyPreferIncoming},
	{regexp.MustCompile(`(^|/)go\.mod$`), models.StrategySmartMerge},
	{regexp.MustCompile(`(^|/)(package-lock\.json|yarn\.lock|pnpm-lock\.yaml)$`), models.StrategyPreferIncoming},
	{regexp.MustCompile(`^\.github/`), models.StrategyPreferIncoming},
	{regexp.MustCompile(`\.(md|markdown|rst)$`), models.StrategyPreferIncoming},
	{regexp.MustCompile(`\.txt$`), models.StrategySmartMerge},
	{regexp.MustCompile(`(^|/)\.gitignore$`), models.StrategySmartMerge},
	{regexp.MustCompile(`\.(ya?ml|toml|json|ini|env)$`), models.StrategySaveBoth},
	{regexp.MustCompile(`\.go$`), models.StrategyAutoResolve},
	{regexp.MustCompile(`\.(py|js|jsx|ts|tsx|sh|rb|java|rs|c|h|cpp)$`), models.StrategyAutoResolve},
}

// Classifier assigns a strategy to a conflicted path.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier that tries extra before DefaultRules.
func New(extra ...Rule) *Classifier {
	rules := make([]Rule, 0, len(extra)+len(DefaultRules))
	rules = append(rules, extra...)
	rules = append(rules, DefaultRules...)
	return &Classifier{rules: rules}
}

// Classify returns the strategy of the first matching rule, or MANUAL_REVIEW.
func (c *Classifier) Classify(path string) models.Strategy {
	path = strings.TrimPrefix(path, "./")
	for _, r := range c.rules {
		if r.Pattern.MatchString(path) {
			return r.Strategy
		}
	}
	return models.StrategyManualReview
}

// Rules returns the evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ParseRule parses a "pattern=STRATEGY" config entry.
func ParseRule(spec string) (Rule, error) {
	i := strings.LastIndex(spec, "=")
	if i <= 0 || i == len(spec)-1 {
		return Rule{}, fmt.Errorf("invalid classifier rule %q (want pattern=STRATEGY)", spec)
	}
	pattern := strings.TrimSpace(spec[:i])
	strategy := models.Strategy(strings.ToUpper(strings.TrimSpace(spec[i+1:])))
	if !strategy.Valid() {
		return Rule{}, fmt.Errorf("invalid classifier rule %q: unknown strategy %q", spec, strategy)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid classifier rule %q: %w", spec, err)
	}
	return Rule{Pattern: re, Strategy: strategy}, nil
}

// ParseRules parses a list of config entries, stopping at the first bad one.
func ParseRules(specs []string) ([]Rule, error) {
	var rules []Rule
	for _, s := range specs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

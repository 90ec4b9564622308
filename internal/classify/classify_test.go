package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/autorebase/internal/models"
)

func TestClassify_DefaultRules(t *testing.T) {
	c := New()

	tests := []struct {
		path string
		want models.Strategy
	}{
		{"foo_test.go", models.StrategyPreferCurrent},
		{"pkg/foo/foo_test.go", models.StrategyPreferCurrent},
		{"foo.go", models.StrategyAutoResolve},
		{"cmd/root.go", models.StrategyAutoResolve},
		{"README.md", models.StrategyPreferIncoming},
		{"docs/NOTES.md", models.StrategyPreferIncoming},
		{"go.sum", models.StrategyPreferIncoming},
		{"go.mod", models.StrategySmartMerge},
		{"web/package-lock.json", models.StrategyPreferIncoming},
		{"config/app.json", models.StrategySaveBoth},
		{"deploy.yaml", models.StrategySaveBoth},
		{".github/workflows/ci.yml", models.StrategyPreferIncoming},
		{"notes.txt", models.StrategySmartMerge},
		{".gitignore", models.StrategySmartMerge},
		{"scripts/build.sh", models.StrategyAutoResolve},
		{"weird.xyz", models.StrategyManualReview},
		{"Makefile", models.StrategyManualReview},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.path))
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := New()
	for _, p := range []string{"foo_test.go", "foo.go", "README.md", "weird.xyz"} {
		first := c.Classify(p)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, c.Classify(p))
		}
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	// Every path must get the strategy of the first rule that matches it.
	c := New()
	paths := []string{"a_test.go", "a.go", "go.mod", "x/package-lock.json", "x.json", ".github/x.md"}
	for _, p := range paths {
		var want models.Strategy = models.StrategyManualReview
		for _, r := range c.Rules() {
			if r.Pattern.MatchString(p) {
				want = r.Strategy
				break
			}
		}
		assert.Equal(t, want, c.Classify(p), p)
	}
}

func TestClassify_ExtraRulesFirst(t *testing.T) {
	extra, err := ParseRules([]string{`^generated/.*\.go$=PREFER_INCOMING`, `\.xyz$=save_both`})
	require.NoError(t, err)

	c := New(extra...)
	assert.Equal(t, models.StrategyPreferIncoming, c.Classify("generated/api.go"))
	assert.Equal(t, models.StrategySaveBoth, c.Classify("weird.xyz"))
	assert.Equal(t, models.StrategyAutoResolve, c.Classify("main.go"))
}

func TestParseRule_Invalid(t *testing.T) {
	for _, spec := range []string{"", "noequals", "=PREFER_CURRENT", `\.go$=`, `\.go$=BOGUS`, `([=SAVE_BOTH`} {
		_, err := ParseRule(spec)
		assert.Error(t, err, spec)
	}
}

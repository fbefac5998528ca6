package searcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/scanmerge/pkg/domain/rule"
	"github.com/openctemio/scanmerge/pkg/domain/shared"
)

const rulesYAML = `
rules:
  - id: bump-low
    model: Vulnerability
    object: severity=low
    actions:
      - --UPDATE:severity=medium
  - name: drop-telnet
    model: Vulnerability
    object: 'name="Telnet enabled"'
    actions: ["--ALERT:telnet", "--DELETE:"]
    disabled: true
`

func TestParseRules(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{name: "rules key", input: rulesYAML, want: 2},
		{name: "bare list", input: "- model: VulnerabilityWeb\n  object: method=get\n  actions: ['--DELETE:']\n", want: 1},
		{name: "empty document", input: "", want: 0},
		{name: "empty rules", input: "rules: []\n", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs, err := ParseRules([]byte(tt.input))
			require.NoError(t, err)
			assert.Len(t, defs, tt.want)
		})
	}
}

func TestParseRules_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":         "rules: [",
		"rules not a list": "rules: severity=low\n",
		"actions not list": "rules:\n  - model: Vulnerability\n    object: severity=low\n    actions: {a: b}\n",
	}
	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRules([]byte(input))
			assert.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestParseRules_KeepsInvalidDefinitions(t *testing.T) {
	defs, err := ParseRules([]byte(`
rules:
  - model: Host
    object: ip=1
    actions: ["--DELETE:"]
    disabled: true
  - model: Vulnerability
    actions: []
`))
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestLoadRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))

	defs, err := LoadRulesFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "bump-low", defs[0].ID)
	assert.Equal(t, []string{"--ALERT:telnet", "--DELETE:"}, defs[1].Actions)
	assert.True(t, defs[1].Disabled)

	_, err = LoadRulesFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEntriesFromDefinitions(t *testing.T) {
	ws := shared.NewID()
	defs, err := ParseRules([]byte(rulesYAML))
	require.NoError(t, err)

	entries := EntriesFromDefinitions(ws, defs)
	require.Len(t, entries, 1, "disabled definitions are dropped")
	require.NotNil(t, entries[0].Rule)
	assert.Equal(t, "bump-low", entries[0].Rule.Label())

	entries = EntriesFromDefinitions(ws, []rule.Definition{
		{Name: "exec", Model: "Vulnerability", Query: "severity=low", Actions: []string{"--EXEC:x"}},
		{Model: "Vulnerability", Query: "severity=low", Actions: []string{"--DELETE:"}},
		{ID: "no-value", Model: "Vulnerability", Query: "severity", Actions: []string{"--DELETE:"}},
		{Model: "Host", Query: "ip=1", Actions: []string{"--DELETE:"}},
		{Model: "Host", Query: "ip=1", Actions: []string{"--FROB:x"}, Disabled: true},
	})
	require.Len(t, entries, 4)

	assert.Equal(t, "exec", entries[0].Label)
	assert.Equal(t, RuleErrInvalidRule, entries[0].Err.Kind)
	assert.ErrorIs(t, entries[0].Err, rule.ErrInvalidAction)

	assert.Nil(t, entries[1].Err)
	assert.NotNil(t, entries[1].Rule)

	assert.Equal(t, "no-value", entries[2].Label)
	assert.ErrorIs(t, entries[2].Err, rule.ErrInvalidQuery)

	assert.Equal(t, "#4", entries[3].Label)
	assert.Equal(t, RuleErrUnknownField, entries[3].Err.Kind)
	assert.ErrorIs(t, entries[3].Err, rule.ErrUnsupportedModel)
}

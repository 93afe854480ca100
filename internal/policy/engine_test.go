package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	allowed, _, err := engine.Allowed(ctx, Input{Action: "start-workflow", Kind: "workflow", TargetID: "wf-1"})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, reason, err := engine.Allowed(ctx, Input{Action: "start-agent", Kind: "agent", TargetID: "internal.admin"})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.NotEmpty(t, reason)
}

func TestPolicyFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.rego")
	content := `
package run_policy

default decision = "allow"

decision = "block" {
	input.kind == "team"
	not input.authenticated
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	engine, err := NewEngineFromFile(ctx, path)
	require.NoError(t, err)

	decision, _, err := engine.Evaluate(ctx, Input{Kind: "team", TargetID: "t"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)

	decision, _, err = engine.Evaluate(ctx, Input{Kind: "team", TargetID: "t", Authenticated: true})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "package broken\n\ndecision = {")
	assert.Error(t, err)

	_, err = NewEngineFromFile(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}

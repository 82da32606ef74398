package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSuite_Testdata(t *testing.T) {
	result, err := RunSuite(context.Background(), filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalScenarios)
	assert.Equal(t, 4, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
}

func TestRunSuite_CountsFailures(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("a_ok.yaml", minimalScenario)
	write("b_broken.yml", "name: broken\n")
	write("c_failing.yaml", `
name: failing
description: "Asserts a reclaim that never happens"
flow:
  - { invoke: advance, args: { seconds: 60 } }
assertions:
  - { type: trace_count, action: reclaim, count: 1 }
`)
	write("notes.txt", "ignored")

	result, err := RunSuite(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].ScenarioPath, "b_broken.yml")
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Contains(t, result.Failures[1].ScenarioPath, "c_failing.yaml")
	assert.Contains(t, result.Failures[1].Error, "scenario assertions failed")
}

func TestRunSuite_EmptyDir(t *testing.T) {
	_, err := RunSuite(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios")
}

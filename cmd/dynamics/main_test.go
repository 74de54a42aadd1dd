package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/adaptive-state/go-dynamics/internal/router"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", ""))
	require.NoError(t, cmd.Execute(), "stderr: %s", errOut.String())
	return out.String()
}

func TestSeedReportRankInspect(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "dyn.db")

	out := run(t, "seed", "--db", db, "--rollouts", "80", "--domain", "backend,frontend", "--seed", "3")
	assert.Contains(t, out, "seeded 80 rollouts")

	reportPath := filepath.Join(dir, "report.json")
	out = run(t, "report", "--db", db, "--out", reportPath)
	assert.Contains(t, out, "Chi2/ndf:")
	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var rep map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &rep))
	assert.Contains(t, rep, "controller_recommendations")

	out = run(t, "rank", "--db", db, "--domain", "backend", "--job-type", "synthetic",
		"--feature", "phase=plan", "--feature", "failures=0", "--candidates", "A,B,Z", "--json")
	var ranked []router.Ranked
	require.NoError(t, json.Unmarshal([]byte(out), &ranked))
	require.Len(t, ranked, 3)
	known := map[string]bool{}
	for _, r := range ranked {
		known[r.Toolchain] = r.Known
	}
	assert.True(t, known["A"])
	assert.True(t, known["B"])
	assert.False(t, known["Z"])

	out = run(t, "inspect", "--db", db)
	assert.Contains(t, out, "backend")
	assert.Contains(t, out, "frontend")
	assert.NotContains(t, out, "no reports logged")
	assert.Contains(t, out, "(all)", "a report over every domain shows a placeholder domain")
}

func TestSeedFixture(t *testing.T) {
	db := filepath.Join(t.TempDir(), "dyn.db")
	fixture := filepath.Join("..", "..", "internal", "replay", "testdata", "rollouts.json")

	out := run(t, "seed", "--db", db, "--fixture", fixture)
	assert.Contains(t, out, "8 states, 8 transitions")
}

func TestConfigErrorsSurface(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	t.Setenv("DYNAMICS_ALPHA", "0")
	cmd.SetArgs([]string{"inspect", "--db", filepath.Join(t.TempDir(), "dyn.db"), "--env-file", ""})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alpha")
}

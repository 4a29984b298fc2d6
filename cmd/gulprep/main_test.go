package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/gulprep/internal/prep"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBuildCommand(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")
	t.Setenv("LOG_LEVEL", "error")

	dir := t.TempDir()
	exp := writeFile(t, dir, "location.csv",
		"PortNumber,AccNumber,LocNumber,BuildingTIV,ContentsTIV\nP1,A1,L1,1000,200\n")
	keys := writeFile(t, dir, "keys.csv",
		"LocID,PerilID,CoverageTypeID,AreaPerilID,VulnerabilityID\nL1,WTC,1,10,20\nL1,WTC,3,10,21\n")
	target := filepath.Join(dir, "out")

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"build", "--exposure", exp, "--keys", keys, "--target-dir", target, "--write-inputs-table"})
	require.NoError(t, cmd.Execute())

	var res prep.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 2, res.Items)
	assert.Len(t, res.Files, 3)
	assert.FileExists(t, filepath.Join(target, "items.csv"))
	assert.FileExists(t, filepath.Join(target, "coverages.csv"))
	assert.FileExists(t, filepath.Join(target, "gul_inputs.csv"))
}

func TestBuildCommand_RequiresInputs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"build", "--exposure", "location.csv"})
	assert.Error(t, cmd.Execute())
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orgrag/internal/app"
	"github.com/fyrsmithlabs/orgrag/internal/config"
)

// useTestApp points every command at one in-memory application for the
// duration of the test.
func useTestApp(t *testing.T) *app.App {
	t.Helper()
	a := app.NewTestApp(t, &app.StaticGenerator{Reply: "Acme was founded in 1949."}, nil)

	orig := openApp
	openApp = func(context.Context) (*app.App, func() error, error) {
		return a, func() error { return nil }, nil
	}
	t.Cleanup(func() { openApp = orig })
	return a
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func decodeOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m), out)
	return m
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"tenant", "ingest", "ask", "sources", "stats", "blob", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	for _, path := range [][]string{
		{"tenant", "create"}, {"tenant", "delete"}, {"tenant", "list"}, {"tenant", "info"},
		{"ingest", "files"}, {"ingest", "url"},
		{"sources", "list"}, {"sources", "documents"}, {"sources", "delete"},
		{"blob", "upload"}, {"blob", "download"}, {"blob", "list"}, {"blob", "delete"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[1], cmd.Name())
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, ingestCmd.PersistentFlags().Lookup("chunk-size"))
	assert.NotNil(t, ingestCmd.PersistentFlags().Lookup("overlap"))
	assert.NotNil(t, askCmd.Flags().Lookup("k"))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "orgrag dev")
}

func TestTenantCommands(t *testing.T) {
	useTestApp(t)

	out, err := execute(t, "tenant", "create", "Acme Corp")
	require.NoError(t, err)
	created := decodeOutput(t, out)
	assert.Equal(t, "acme-corp", created["name"])
	assert.Equal(t, true, created["index_created"])

	out, err = execute(t, "tenant", "list")
	require.NoError(t, err)
	list := decodeOutput(t, out)
	assert.Equal(t, []any{"acme-corp"}, list["tenants"])

	out, err = execute(t, "tenant", "info", "Acme Corp")
	require.NoError(t, err)
	info := decodeOutput(t, out)
	assert.Equal(t, "active", info["status"])
	assert.Equal(t, true, info["search_index_exists"])

	_, err = execute(t, "tenant", "create", "acme_corp")
	assert.Error(t, err)

	out, err = execute(t, "tenant", "delete", "Acme Corp")
	require.NoError(t, err)
	deleted := decodeOutput(t, out)
	assert.Equal(t, true, deleted["index_deleted"])
}

func TestIngestAndAsk(t *testing.T) {
	useTestApp(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.txt"), []byte("Acme was founded in 1949 in the desert."), 0o644))

	_, err := execute(t, "tenant", "create", "Acme Corp")
	require.NoError(t, err)

	out, err := execute(t, "ingest", "files", "Acme Corp", dir, "--chunk-size", "200", "--overlap", "20")
	require.NoError(t, err)
	res := decodeOutput(t, out)
	assert.Equal(t, true, res["index_written"])
	assert.NotEmpty(t, res["source_id"])
	sourceID := res["source_id"].(string)

	out, err = execute(t, "ask", "Acme Corp", "When was Acme founded?", "--k", "2")
	require.NoError(t, err)
	answer := decodeOutput(t, out)
	assert.Equal(t, "Acme was founded in 1949.", answer["answer"])
	assert.Equal(t, true, answer["grounded"])

	out, err = execute(t, "sources", "list", "Acme Corp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeOutput(t, out)["count"])

	out, err = execute(t, "stats", "Acme Corp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeOutput(t, out)["totalSources"])

	out, err = execute(t, "sources", "delete", "Acme Corp", sourceID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeOutput(t, out)["documents_deleted"])
}

func TestIngestFiles_MissingDirectory(t *testing.T) {
	useTestApp(t)
	_, err := execute(t, "tenant", "create", "Acme Corp")
	require.NoError(t, err)

	_, err = execute(t, "ingest", "files", "Acme Corp", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestBlobCommands(t *testing.T) {
	useTestApp(t)
	_, err := execute(t, "tenant", "create", "Acme Corp")
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("remember the anvils"), 0o644))

	out, err := execute(t, "blob", "upload", "Acme Corp", file)
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", decodeOutput(t, out)["name"])

	out, err = execute(t, "blob", "list", "Acme Corp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeOutput(t, out)["count"])

	out, err = execute(t, "blob", "download", "Acme Corp", "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "remember the anvils", out)

	_, err = execute(t, "blob", "delete", "Acme Corp", "notes.txt")
	require.NoError(t, err)

	_, err = execute(t, "blob", "download", "Acme Corp", "notes.txt")
	assert.Error(t, err)
}

func TestArgsValidation(t *testing.T) {
	useTestApp(t)
	_, err := execute(t, "ask", "Acme Corp")
	assert.Error(t, err)

	_, err = execute(t, "tenant", "info")
	assert.Error(t, err)
}

func TestOpenApp_RejectsConfigOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath = filepath.Join(t.TempDir(), "config.yaml")
	t.Cleanup(func() { configPath = "" })

	_, _, err := openApp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

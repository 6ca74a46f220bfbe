package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/config"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/model"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/pipeline"
	"github.com/nooglenTech/Investment-Intelligence-Platform/internal/store"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "analyze"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "iip", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestMigrateCommand_Flags(t *testing.T) {
	for _, name := range []string{"reset", "yes"} {
		flag := migrateCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "migrate should have --%s flag", name)
		assert.Equal(t, "false", flag.DefValue)
	}
}

func TestAnalyzeCommand_Flags(t *testing.T) {
	for _, name := range []string{"name", "submitter", "timeout"} {
		assert.NotNil(t, analyzeCmd.Flags().Lookup(name), "analyze should have --%s flag", name)
	}
	assert.Error(t, analyzeCmd.Args(analyzeCmd, nil))
	assert.NoError(t, analyzeCmd.Args(analyzeCmd, []string{"memo.pdf"}))
}

func useSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cmd.db")
	prev := cfg
	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: path}}
	t.Cleanup(func() { cfg = prev })
	return path
}

func TestRunMigrate(t *testing.T) {
	path := useSQLite(t)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, runMigrate(ctx, &out, false, false))
	assert.Contains(t, out.String(), "schema up to date")

	st, err := store.NewSQLite(path)
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, store.NewJob{SubmitterID: "u", SubmitterName: "U", SourceName: "a.pdf"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	err = runMigrate(ctx, &out, true, false)
	assert.ErrorContains(t, err, "--yes")

	out.Reset()
	require.NoError(t, runMigrate(ctx, &out, true, true))
	assert.Contains(t, out.String(), "schema reset")

	st, err = store.NewSQLite(path)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	jobs, err := st.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0))
	assert.Nil(t, newLimiter(-1))

	l := newLimiter(2.5)
	require.NotNil(t, l)
	assert.Equal(t, rate.Limit(2.5), l.Limit())
	assert.Equal(t, 3, l.Burst())

	assert.Equal(t, 1, newLimiter(0.5).Burst())
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()

	_, err := readDocument(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = readDocument(empty)
	assert.ErrorIs(t, err, pipeline.ErrEmptyDocument)

	doc := filepath.Join(dir, "memo.pdf")
	require.NoError(t, os.WriteFile(doc, []byte("%PDF"), 0o600))
	data, err := readDocument(doc)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
}

func TestPrintOutcome(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printOutcome(&out, "job-1", nil, store.ErrNotFound))
	assert.Contains(t, out.String(), "job job-1 removed")

	out.Reset()
	require.NoError(t, printOutcome(&out, "job-2", &model.Job{ID: "job-2", Status: model.JobStatusComplete}, nil))
	assert.Contains(t, out.String(), `"status": "Complete"`)

	out.Reset()
	err := printOutcome(&out, "job-3", &model.Job{ID: "job-3", Status: model.JobStatusFailed}, nil)
	assert.ErrorContains(t, err, "job job-3 failed")
	assert.Contains(t, out.String(), `"status": "Failed"`)

	assert.ErrorIs(t, printOutcome(&out, "job-4", nil, context.DeadlineExceeded), context.DeadlineExceeded)
}

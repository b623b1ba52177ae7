package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Run(args, &out, &errOut)
	return cliResult{code, out.String(), errOut.String()}
}

func TestRun_SaveGetListRemove(t *testing.T) {
	db := filepath.Join(t.TempDir(), "overlays.db")

	r := runCLI(t, "--db", db, "--user", "alice", "save", "--batch", "3", "rooms/a/messages/m1", `{"kind":"set","fields":{"text":"hi"}}`)
	require.Equal(t, 0, r.code, r.stderr)
	r = runCLI(t, "--db", db, "--user", "alice", "save", "--batch", "5", "rooms/a/messages/m2", `{"kind":"delete"}`)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "--db", db, "--user", "alice", "get", "rooms/a/messages/m1")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, `{"key":"rooms/a/messages/m1","batch":3,"mutation":{"kind":"set","fields":{"text":"hi"}}}`+"\n", r.stdout)

	r = runCLI(t, "--db", db, "--user", "alice", "list", "rooms/a/messages", "--since", "3")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, `{"key":"rooms/a/messages/m2","batch":5,"mutation":{"kind":"delete"}}`+"\n", r.stdout)

	r = runCLI(t, "--db", db, "--user", "alice", "group", "messages", "--count", "1")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "rooms/a/messages/m1")
	assert.NotContains(t, r.stdout, "rooms/a/messages/m2")

	r = runCLI(t, "--db", db, "--user", "bob", "get", "rooms/a/messages/m1")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "no overlay for rooms/a/messages/m1")

	r = runCLI(t, "--db", db, "--user", "alice", "remove-batch", "3")
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "--db", db, "--user", "alice", "stats")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "overlays = 1, batch_idx = 1, collection_idx = 1, group_idx = 1")

	r = runCLI(t, "--db", db, "--user", "alice", "check")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, "ok\n", r.stdout)

	r = runCLI(t, "--db", db, "dump")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, "overlay[alice].1 rooms/a/messages/m2 @5")
	assert.Contains(t, r.stdout, "group_idx[alice].1 @5 rooms/a/messages/m2")
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cfg.json")
	db := filepath.Join(dir, "from-config.db")
	cfg := `{
		// JSONC is fine
		"db_path": "` + db + `",
		"user": "carol",
		"serializer": "json",
	}`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	r := runCLI(t, "--config", cfgPath, "save", "--batch", "1", "a/b", `{"kind":"verify"}`)
	require.Equal(t, 0, r.code, r.stderr)
	_, err := os.Stat(db)
	require.NoError(t, err)

	r = runCLI(t, "--config", cfgPath, "get", "a/b")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Contains(t, r.stdout, `"kind":"verify"`)

	r = runCLI(t, "--config", filepath.Join(dir, "missing.json"), "stats")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "config file not found")
}

func TestRun_Usage(t *testing.T) {
	r := runCLI(t)
	assert.Equal(t, 0, r.code)
	assert.Contains(t, r.stdout, "remove-batch <id>")

	r = runCLI(t, "frobnicate")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, `unknown command "frobnicate"`)

	r = runCLI(t, "get")
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "get takes 1 argument(s), got 0")

	db := filepath.Join(t.TempDir(), "x.db")
	r = runCLI(t, "--db", db, "save", "a/b", `{"kind":"set"}`)
	assert.Equal(t, 1, r.code)
	assert.True(t, strings.Contains(r.stderr, "--batch is required"), r.stderr)
}

func TestRun_SaveNumericFields(t *testing.T) {
	db := filepath.Join(t.TempDir(), "x.db")
	r := runCLI(t, "--db", db, "save", "--batch", "2", "a/b", `{"kind":"set","fields":{"n":42,"f":1.5,"w":2.0,"big":1099511627776}}`)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "--db", db, "get", "a/b")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, `{"key":"a/b","batch":2,"mutation":{"kind":"set","fields":{"big":1099511627776,"f":1.5,"n":42,"w":2.0}}}`+"\n", r.stdout)

	r = runCLI(t, "--db", db, "save", "--batch", "3", "a/c", `{"fields":{}}`)
	assert.Equal(t, 1, r.code)
	assert.Contains(t, r.stderr, "invalid mutation")
}

func TestRun_GroupSortsExtremeBatchIDs(t *testing.T) {
	db := filepath.Join(t.TempDir(), "x.db")
	r := runCLI(t, "--db", db, "save", "--batch=5", "a/late", `{"kind":"delete"}`)
	require.Equal(t, 0, r.code, r.stderr)
	r = runCLI(t, "--db", db, "save", "--batch=-9223372036854775807", "a/early", `{"kind":"delete"}`)
	require.Equal(t, 0, r.code, r.stderr)

	r = runCLI(t, "--db", db, "group", "--since=-9223372036854775808", "a")
	require.Equal(t, 0, r.code, r.stderr)
	assert.Equal(t, `{"key":"a/early","batch":-9223372036854775807,"mutation":{"kind":"delete"}}`+"\n"+
		`{"key":"a/late","batch":5,"mutation":{"kind":"delete"}}`+"\n", r.stdout)
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]byte(`{"db_path": "x.db", /* comment */ "mmap_size": 1024,}`))
	require.NoError(t, err)
	assert.Equal(t, Config{DBPath: "x.db", MmapSize: 1024}, cfg)

	_, err = parseConfig([]byte(`{"db_path": `))
	require.Error(t, err)

	err = validateConfig(Config{DBPath: "x.db", Serializer: "yaml"})
	require.ErrorIs(t, err, errConfigInvalid)
	require.ErrorIs(t, validateConfig(Config{}), errDBPathEmpty)
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mesh-intelligence/peermention/internal/paths"
	"github.com/mesh-intelligence/peermention/pkg/types"
)

func TestLoad_WritesDefaults(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")

	rt, err := Load(dir)
	require.NoError(t, err)
	assert.FileExists(t, paths.ConfigFile(dir))

	assert.Equal(t, types.BackendSQLite, rt.Backend)
	assert.Equal(t, types.DefaultTopic, rt.Topic)
	assert.Equal(t, DefaultPeerTimeout, rt.PeerTimeout)
	assert.Equal(t, DefaultFetchTimeout, rt.FetchTimeout)
	assert.Equal(t, DefaultLogLevel, rt.LogLevel)
	assert.Empty(t, rt.Endpoint)
	assert.Empty(t, rt.DataDir)
}

func TestLoad_FileValues(t *testing.T) {
	dir := t.TempDir()
	yaml := `endpoint: https://example.org/webmention
backend: memory
data_dir: /var/lib/peermention
topic: mentions
relay_url: ws://relay.example.org/
peer_timeout: 5s
fetch_timeout: 2s
log_level: debug
log_format: json
metrics_addr: 127.0.0.1:9090
`
	require.NoError(t, os.WriteFile(paths.ConfigFile(dir), []byte(yaml), 0o644))

	rt, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Runtime{
		Endpoint:     "https://example.org/webmention",
		Backend:      types.BackendMemory,
		DataDir:      "/var/lib/peermention",
		Topic:        "mentions",
		RelayURL:     "ws://relay.example.org/",
		PeerTimeout:  5 * time.Second,
		FetchTimeout: 2 * time.Second,
		LogLevel:     "debug",
		LogFormat:    "json",
		MetricsAddr:  "127.0.0.1:9090",
	}, rt)
}

func TestLoad_ExistingFileUntouched(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(paths.ConfigFile(dir), []byte("topic: mine\n"), 0o644))

	written, err := WriteIfMissing(dir, DefaultFile())
	require.NoError(t, err)
	assert.False(t, written)

	data, err := os.ReadFile(paths.ConfigFile(dir))
	require.NoError(t, err)
	assert.Equal(t, "topic: mine\n", string(data))
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PEERMENTION_RELAY_URL", "ws://env.example/")
	t.Setenv("PEERMENTION_PEER_TIMEOUT", "3s")

	rt, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "ws://env.example/", rt.RelayURL)
	assert.Equal(t, 3*time.Second, rt.PeerTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want error
	}{
		{name: "unknown backend", yaml: "backend: postgres\n", want: types.ErrBackendUnknown},
		{name: "zero peer timeout", yaml: "peer_timeout: 0s\n", want: ErrInvalidTimeout},
		{name: "negative fetch timeout", yaml: "fetch_timeout: -1s\n", want: ErrInvalidTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(paths.ConfigFile(dir), []byte(tt.yaml), 0o644))
			_, err := Load(dir)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(paths.ConfigFile(dir), []byte("topic: [unclosed\n"), 0o644))
		_, err := Load(dir)
		assert.Error(t, err)
	})
}

func TestLists(t *testing.T) {
	dir := t.TempDir()

	l, err := LoadLists(dir)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultLists(), l, "missing file is the unset record")

	saved := types.Lists{Blacklist: []string{"spam\\.example"}, Whitelist: nil}
	require.NoError(t, SaveLists(dir, saved))

	data, err := os.ReadFile(paths.ListsFile(dir))
	require.NoError(t, err)
	assert.JSONEq(t, `{"blacklist":["spam\\.example"],"whitelist":[""]}`, string(data))

	l, err = LoadLists(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"spam\\.example"}, l.Blacklist)
	assert.True(t, l.WhitelistUnset())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLoadLists_Malformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(paths.ListsFile(dir), []byte("{"), 0o644))
	_, err := LoadLists(dir)
	assert.Error(t, err)
}

func TestWatchLists(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	applied := make(chan types.Lists, 16)
	done := make(chan error, 1)
	go func() {
		done <- WatchLists(ctx, dir, zaptest.NewLogger(t), func(l types.Lists) {
			select {
			case applied <- l:
			default:
			}
		})
	}()

	want := types.Lists{Blacklist: []string{"spam"}, Whitelist: []string{"https://me.example/"}}
	// The watcher registers asynchronously; keep saving until it reports.
	require.Eventually(t, func() bool {
		if err := SaveLists(dir, want); err != nil {
			return false
		}
		select {
		case got := <-applied:
			return assert.Equal(t, want, got)
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchLists_MissingDir(t *testing.T) {
	err := WatchLists(context.Background(), filepath.Join(t.TempDir(), "absent"), nil, func(types.Lists) {})
	assert.Error(t, err)
}

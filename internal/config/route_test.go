package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/haiku-connector/gateway/internal/config"
)

const sample = `
[[route]]
func_name = "echo"
path = "/e"
method = "GET"

[[route]]
func_name = "upload"
path = "/u"
method = "POST"
content_type = "multipart/form-data"
async_func_name = "upload_async"
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "routes.toml")
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o600))
	return p
}

func TestLoad(t *testing.T) {
	f, err := config.Load(writeTemp(t, sample), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, f.Route, 2)

	assert.Equal(t, "echo", f.Route[0].FuncName)
	assert.Equal(t, config.Get, f.Route[0].Method)
	assert.False(t, f.Route[0].IsMultipart())
	assert.False(t, f.Route[0].HasAsync())

	assert.Equal(t, "upload", f.Route[1].FuncName)
	assert.True(t, f.Route[1].IsMultipart())
	assert.True(t, f.Route[1].HasAsync())
	assert.Equal(t, "upload_async", f.Route[1].AsyncFuncName)
}

const dupRoutes = `
[[route]]
func_name = "first"
path = "/dup"
method = "GET"

[[route]]
func_name = "second"
path = "/dup"
method = "GET"
`

func TestMatchFirstWins(t *testing.T) {
	f, err := config.Load(writeTemp(t, dupRoutes), zap.NewNop())
	require.NoError(t, err)

	r, ok := f.Match(config.Get, "/dup")
	require.True(t, ok)
	assert.Equal(t, "first", r.FuncName)
}

func TestLoadWarnsOnDuplicateRoute(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	_, err := config.Load(writeTemp(t, dupRoutes), log)
	require.NoError(t, err)

	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "duplicate route")
}

func TestMatchNoRoute(t *testing.T) {
	f, err := config.Load(writeTemp(t, sample), zap.NewNop())
	require.NoError(t, err)

	_, ok := f.Match(config.Post, "/missing")
	assert.False(t, ok)
}

func TestLoadRejectsMissingFuncName(t *testing.T) {
	_, err := config.Load(writeTemp(t, `
[[route]]
path = "/e"
method = "GET"
`), zap.NewNop())
	assert.Error(t, err)
}

func TestLoadRejectsUnknownMethod(t *testing.T) {
	_, err := config.Load(writeTemp(t, `
[[route]]
func_name = "echo"
path = "/e"
method = "CONNECT"
`), zap.NewNop())
	assert.Error(t, err)
}

func TestMethodBitmaskValues(t *testing.T) {
	assert.Equal(t, config.Method(2), config.Delete)
	assert.Equal(t, config.Method(4), config.Get)
	assert.Equal(t, config.Method(8), config.Head)
	assert.Equal(t, config.Method(16), config.Options)
	assert.Equal(t, config.Method(32), config.Patch)
	assert.Equal(t, config.Method(64), config.Post)
	assert.Equal(t, config.Method(128), config.Put)
	assert.Equal(t, config.Method(256), config.Trace)
}

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coilhq/ilp-plugin-bilateral/config"
	"github.com/coilhq/ilp-plugin-bilateral/plugin"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndConvert(t *testing.T) {
	path := writeConfig(t, `
prefix = "peer.t."
token = "shared-secret"
rpc_uri = "ws://localhost:7768/rpc"
max_balance = "1000"
min_balance = "-1000"
info = '{"currencyCode":"USD","currencyScale":2}'
role = "client"

[store]
driver = "mem"

[log]
format = "json"
`)

	f, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	opts, err := f.ToPluginOptions()
	require.NoError(t, err)
	require.Equal(t, "peer.t.", opts.Prefix)
	require.Equal(t, "shared-secret", opts.Token)
	require.Equal(t, []string{"ws://localhost:7768/rpc"}, opts.RPCURIs)
	require.Equal(t, "1000", opts.MaxBalance)
	require.Equal(t, "-1000", opts.MinBalance)
	require.Equal(t, plugin.RoleClient, opts.Role)
	require.False(t, opts.Stateful, "client role must not own bounds enforcement")
	require.JSONEq(t, `{"currencyCode":"USD","currencyScale":2}`, string(opts.Info))
}

func TestToPluginOptionsServerRoleIsStateful(t *testing.T) {
	path := writeConfig(t, `
rpc_uri = "ws://localhost:7768/rpc"
max_balance = "1000"
min_balance = "-1000"
role = "server"
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	opts, err := f.ToPluginOptions()
	require.NoError(t, err)
	require.Equal(t, plugin.RoleServer, opts.Role)
	require.True(t, opts.Stateful, "server role must own the transfer log's bounds")
}

func TestValidateRequiresRPCURI(t *testing.T) {
	path := writeConfig(t, `
prefix = "peer.t."
role = "server"
`)
	f, err := config.Load(path)
	require.NoError(t, err)
	require.Error(t, f.Validate())
}

func TestValidateRequiresRoleInAsymmetricMode(t *testing.T) {
	path := writeConfig(t, `
rpc_uri = "ws://localhost:7768/rpc"
`)
	f, err := config.Load(path)
	require.NoError(t, err)
	require.Error(t, f.Validate())
}

func TestToPluginOptionsRejectsInvalidInfoJSON(t *testing.T) {
	path := writeConfig(t, `
rpc_uri = "ws://localhost:7768/rpc"
role = "server"
info = "not json"
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	_, err = f.ToPluginOptions()
	require.Error(t, err)
}

func TestMustExistReportsMissingFile(t *testing.T) {
	require.Error(t, config.MustExist(filepath.Join(t.TempDir(), "missing.toml")))
}

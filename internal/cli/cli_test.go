package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"kq-tunnel/internal/config/schema"
	coreerrors "kq-tunnel/internal/core/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// 避免工作目录或用户目录里的配置文件干扰
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "kqtunnel v"), out)
}

func TestConfigCommand_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kqtunnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: warn
transport:
  protocol: tcp
  address: 10.1.1.1:7000
forwards:
  - listen: 127.0.0.1:2222
    target: 10.0.0.5:22
`), 0o644))

	out, err := execute(t, "config", "--role", "client", "-c", path, "--log-level", "debug", "-p", "kcp")
	require.NoError(t, err)

	var cfg schema.Root
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "debug", cfg.Log.Level, "flag beats file")
	assert.Equal(t, "kcp", cfg.Transport.Protocol)
	assert.Equal(t, "10.1.1.1:7000", cfg.Transport.Address, "file beats default")
	require.Len(t, cfg.Forwards, 1)
	assert.Equal(t, "10.0.0.5:22", cfg.Forwards[0].Target)
}

func TestConfigCommand_Errors(t *testing.T) {
	_, err := execute(t, "config", "--role", "relay")
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeInvalidParam))

	_, err = execute(t, "config", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))

	_, err = execute(t, "config", "--role", "client", "-p", "carrier-pigeon")
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeConfigError))
}

func TestServerFlags(t *testing.T) {
	o := &serverOptions{}
	cmd := &cobra.Command{}
	o.bind(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{
		"--listen", "0.0.0.0:9000",
		"--api-listen", "127.0.0.1:9191",
		"--allow", "10.0.0.5:22", "--allow", "10.0.0.6:22",
		"--no-dial",
	}))

	cfg := &schema.Root{Dial: schema.DialConfig{Enabled: true, Target: "keep:1"}}
	require.NoError(t, o.overrides(cmd.Flags()).LoadInto(cfg))
	assert.Equal(t, "0.0.0.0:9000", cfg.Transport.Listen)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:9191", cfg.API.Listen)
	assert.Equal(t, []string{"10.0.0.5:22", "10.0.0.6:22"}, cfg.Dial.Allow)
	assert.False(t, cfg.Dial.Enabled)
	assert.Equal(t, "keep:1", cfg.Dial.Target, "unset flag leaves the value alone")
}

func TestClientFlags(t *testing.T) {
	o := &clientOptions{}
	cmd := &cobra.Command{}
	o.bind(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{
		"-s", "tunnel.example.com:7000",
		"-L", "2222=10.0.0.5:22",
		"-L", "127.0.0.1:8080=web:80",
		"--max-attempts", "5",
	}))

	cfg := &schema.Root{Forwards: []schema.ForwardConfig{{Listen: "127.0.0.1:1", Target: "old:1"}}}
	require.NoError(t, o.overrides(cmd.Flags()).LoadInto(cfg))
	assert.Equal(t, "tunnel.example.com:7000", cfg.Transport.Address)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, []schema.ForwardConfig{
		{Listen: "127.0.0.1:2222", Target: "10.0.0.5:22"},
		{Listen: "127.0.0.1:8080", Target: "web:80"},
	}, cfg.Forwards, "flags replace configured forwards")

	bad := &clientOptions{}
	cmd = &cobra.Command{}
	bad.bind(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"-L", "2222"}))
	assert.Error(t, bad.overrides(cmd.Flags()).LoadInto(&schema.Root{}))
}

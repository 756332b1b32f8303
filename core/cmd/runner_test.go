package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/formbot/core/config"
	coretelegram "github.com/m3rciful/formbot/core/telegram"
)

type fakeCfg struct{ core *coreconfig.Config }

func (f fakeCfg) CoreConfig() *coreconfig.Config { return f.core }

type fakeApp struct{ opts coretelegram.RunOptions }

func (a fakeApp) TelegramRunOptions() (coretelegram.RunOptions, error) { return a.opts, nil }

func TestConfigPath(t *testing.T) {
	t.Setenv("FORMBOT_TEST_CONFIG", "")
	_, err := ConfigPath("FORMBOT_TEST_CONFIG", "")
	assert.Error(t, err)

	p, err := ConfigPath("FORMBOT_TEST_CONFIG", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", p)

	t.Setenv("FORMBOT_TEST_CONFIG", "/etc/formbot.yaml")
	p, err = ConfigPath("FORMBOT_TEST_CONFIG", "config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/formbot.yaml", p)
}

func TestRunWrapsHooks(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	var (
		loadedPath string
		calls      []string
		shutdown   bool
	)
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(_ context.Context, path string) (ConfigCarrier, error) {
			loadedPath = path
			return fakeCfg{core: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) {
			return fakeApp{opts: coretelegram.RunOptions{
				OnStart: func(context.Context, coretelegram.Runtime) error { calls = append(calls, "start"); return nil },
				OnStop:  func(context.Context, coretelegram.Runtime) error { calls = append(calls, "stop"); return nil },
			}}, nil
		},
		ShutdownLogger: func() error { shutdown = true; return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			require.NoError(t, opts.OnStart(ctx, coretelegram.Runtime{}))
			require.NoError(t, opts.OnStop(ctx, coretelegram.Runtime{}))
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", loadedPath)
	assert.Equal(t, []string{"start", "stop"}, calls)
	assert.True(t, shutdown)
}

func TestRunBootstrapError(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(context.Context, string) (ConfigCarrier, error) {
			return fakeCfg{core: &coreconfig.Config{}}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) {
			return nil, errors.New("db down")
		},
		ShutdownLogger: func() error { return nil },
	})
	assert.ErrorContains(t, err, "db down")
}

func TestRunMissingCoreConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	err := Run(Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(context.Context, string) (ConfigCarrier, error) {
			return fakeCfg{}, nil
		},
		Bootstrap: func(context.Context, ConfigCarrier) (TelegramApp, error) { return nil, nil },
	})
	assert.ErrorContains(t, err, "missing core configuration")
}

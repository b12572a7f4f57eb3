package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gobuffalo/nulls"
	"github.com/google/go-cmp/cmp"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeout = 3 * time.Second

func writeConfigFile(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)
	c, err := s.Config()
	require.NoError(t, err)
	expected := Config{
		Log: LogConfig{
			StdoutLevel: zap.InfoLevel,
		},
		Arbitration: ArbitrationConfig{
			PollInterval:        DefaultPollInterval,
			ReleaseOnUnregister: true,
			MockDisplays:        1,
		},
		Web:  WebConfig{ListenAddr: DefaultListenAddr},
		MQTT: MQTTConfig{ClientID: DefaultMQTTClientID},
	}
	assert.Empty(t, cmp.Diff(expected, c), "should use defaults")
}

func TestLoad_file(t *testing.T) {
	path := writeConfigFile(t, `
log:
  stdout_level: debug
  debug_output: /var/log/vr-arbiter/debug.log
  system_debug_stats_interval: 5
arbitration:
  poll_interval: 20ms
  release_on_unregister: false
  mock_displays: 2
  mock_gamepads: true
web:
  listen_addr: 127.0.0.1:8080
mqtt:
  addr: mqtt://localhost:1883
db:
  conn: postgres://arbiter@localhost/arbiter
  max_conns: 4
`)
	s, err := Load(path)
	require.NoError(t, err)
	c, err := s.Config()
	require.NoError(t, err)
	expected := Config{
		Log: LogConfig{
			StdoutLevel:              zap.DebugLevel,
			DebugOutput:              nulls.NewString("/var/log/vr-arbiter/debug.log"),
			SystemDebugStatsInterval: nulls.NewInt(5),
		},
		Arbitration: ArbitrationConfig{
			PollInterval: 20 * time.Millisecond,
			MockDisplays: 2,
			MockGamepads: true,
		},
		Web: WebConfig{ListenAddr: "127.0.0.1:8080"},
		MQTT: MQTTConfig{
			Addr:     nulls.NewString("mqtt://localhost:1883"),
			ClientID: DefaultMQTTClientID,
		},
		DB: DBConfig{
			Conn:     nulls.NewString("postgres://arbiter@localhost/arbiter"),
			MaxConns: 4,
		},
	}
	assert.Empty(t, cmp.Diff(expected, c), "should read file")
}

func TestLoad_env(t *testing.T) {
	t.Setenv("VRARBITER_WEB_LISTEN_ADDR", ":1234")
	t.Setenv("VRARBITER_ARBITRATION_MOCK_DISPLAYS", "3")
	t.Setenv("VRARBITER_MQTT_ADDR", "mqtt://broker:1883")
	s, err := Load("")
	require.NoError(t, err)
	c, err := s.Config()
	require.NoError(t, err)
	assert.Equal(t, ":1234", c.Web.ListenAddr)
	assert.Equal(t, 3, c.Arbitration.MockDisplays)
	assert.Equal(t, nulls.NewString("mqtt://broker:1883"), c.MQTT.Addr)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "meow.yaml"))
	require.Error(t, err, "should fail")
	assert.True(t, errors.Is(err, errors.KindInvalidConfig))
}

func TestLoad_invalidLevel(t *testing.T) {
	path := writeConfigFile(t, "log:\n  stdout_level: loud\n")
	s, err := Load(path)
	require.NoError(t, err)
	_, err = s.Config()
	require.Error(t, err, "should fail")
	assert.True(t, errors.Is(err, errors.KindInvalidConfig))
}

func TestLoad_levelFromEnv(t *testing.T) {
	t.Setenv("VRARBITER_LOG_STDOUT_LEVEL", "WARN")
	s, err := Load("")
	require.NoError(t, err)
	c, err := s.Config()
	require.NoError(t, err)
	assert.Equal(t, zap.WarnLevel, c.Log.StdoutLevel, "should parse upper case level")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Arbitration: ArbitrationConfig{PollInterval: DefaultPollInterval},
			Web:         WebConfig{ListenAddr: DefaultListenAddr},
		}
	}
	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{name: "ok", modify: func(_ *Config) {}, ok: true},
		{name: "no listen addr", modify: func(c *Config) { c.Web.ListenAddr = "" }},
		{name: "zero poll interval", modify: func(c *Config) { c.Arbitration.PollInterval = 0 }},
		{name: "negative mock displays", modify: func(c *Config) { c.Arbitration.MockDisplays = -1 }},
		{name: "negative max size", modify: func(c *Config) { c.Log.MaxSize = -1 }},
		{name: "negative keep days", modify: func(c *Config) { c.Log.KeepDays = -1 }},
		{name: "negative max conns", modify: func(c *Config) { c.DB.MaxConns = -1 }},
		{name: "publish without mqtt", modify: func(c *Config) { c.Log.Publish = true }},
		{name: "publish with mqtt", modify: func(c *Config) {
			c.Log.Publish = true
			c.MQTT.Addr = nulls.NewString("mqtt://localhost")
		}, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			err := Validate(c)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.KindInvalidConfig))
		})
	}
}

func TestSource_Watch(t *testing.T) {
	path := writeConfigFile(t, "log:\n  stdout_level: info\n")
	s, err := Load(path)
	require.NoError(t, err)
	changed := make(chan Config, 8)
	s.Watch(zap.New(zapcore.NewNopCore()), func(c Config) {
		changed <- c
	})
	require.NoError(t, os.WriteFile(path, []byte("log:\n  stdout_level: debug\n"), 0o600))
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			assert.Fail(t, "timeout", "should notify about change")
			return
		case c := <-changed:
			if c.Log.StdoutLevel == zap.DebugLevel {
				return
			}
		}
	}
}

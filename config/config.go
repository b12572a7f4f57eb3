// Package config loads the application configuration from file and
// environment.
package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/pollsched"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is the prefix for environment variables overriding config values.
// The key log.stdout_level is set with VRARBITER_LOG_STDOUT_LEVEL, for example.
const EnvPrefix = "VRARBITER"

// Defaults.
const (
	DefaultListenAddr   = ":9442"
	DefaultPollInterval = pollsched.DefaultInterval
	DefaultStdoutLevel  = "info"
	DefaultMQTTClientID = "vr-arbiter"
)

// Config is the configuration needed in order to boot the app.
type Config struct {
	Log         LogConfig
	Arbitration ArbitrationConfig
	Web         WebConfig
	MQTT        MQTTConfig
	DB          DBConfig
}

// LogConfig is the configuration for logging.
type LogConfig struct {
	// StdoutLevel is the minimum level for stdout output.
	StdoutLevel zapcore.Level
	// HighPriorityOutput is an optional file for warnings and errors.
	HighPriorityOutput nulls.String
	// DebugOutput is an optional file for all entries.
	DebugOutput nulls.String
	// MaxSize in megabytes of log files before rotating.
	MaxSize int
	// KeepDays of rotated log files.
	KeepDays int
	// SystemDebugStatsInterval is the interval in minutes for logging debug stats.
	// Disabled if not set.
	SystemDebugStatsInterval nulls.Int
	// Publish log entries over MQTT. Requires MQTTConfig.Addr.
	Publish bool
}

// ArbitrationConfig configures the dispatcher and the display backends.
type ArbitrationConfig struct {
	// PollInterval is the time between hardware event polls.
	PollInterval time.Duration
	// ReleaseOnUnregister ends presenting of contexts that unregister.
	ReleaseOnUnregister bool
	// MockDisplays is the number of simulated displays.
	MockDisplays int
	// MockGamepads attaches a simulated gamepad to each simulated display.
	MockGamepads bool
}

// WebConfig configures the HTTP server.
type WebConfig struct {
	ListenAddr string
}

// MQTTConfig configures the MQTT connection used for remote displays and
// mirroring.
type MQTTConfig struct {
	// Addr of the MQTT server. If not set, MQTT features are disabled.
	Addr     nulls.String
	ClientID string
}

// DBConfig configures persistence.
type DBConfig struct {
	// Conn is the Postgres connection string. If not set, recording is
	// disabled.
	Conn     nulls.String
	MaxConns int32
}

// Source is a loaded config source that can be watched for changes.
type Source struct {
	v        *viper.Viper
	fromFile bool
}

// Load reads the config from the file at the given path and the environment.
// If the path is empty, only defaults and environment are used.
func Load(path string) (*Source, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	s := &Source{v: v}
	if path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		if err != nil {
			return nil, errors.Error{
				Code:    errors.ErrFatal,
				Kind:    errors.KindInvalidConfig,
				Err:     err,
				Message: "read config file",
				Details: errors.Details{"path": path},
			}
		}
		s.fromFile = true
	}
	return s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.stdout_level", DefaultStdoutLevel)
	v.SetDefault("log.high_priority_output", "")
	v.SetDefault("log.debug_output", "")
	v.SetDefault("log.max_size", 0)
	v.SetDefault("log.keep_days", 0)
	v.SetDefault("log.system_debug_stats_interval", 0)
	v.SetDefault("log.publish", false)
	v.SetDefault("arbitration.poll_interval", DefaultPollInterval)
	v.SetDefault("arbitration.release_on_unregister", true)
	v.SetDefault("arbitration.mock_displays", 1)
	v.SetDefault("arbitration.mock_gamepads", false)
	v.SetDefault("web.listen_addr", DefaultListenAddr)
	v.SetDefault("mqtt.addr", "")
	v.SetDefault("mqtt.client_id", DefaultMQTTClientID)
	v.SetDefault("db.conn", "")
	v.SetDefault("db.max_conns", 0)
}

// Config returns the current Config. It fails with errors.KindInvalidConfig if
// values are invalid.
func (s *Source) Config() (Config, error) {
	v := s.v
	var c Config
	var stdoutLevel zapcore.Level
	err := stdoutLevel.UnmarshalText([]byte(v.GetString("log.stdout_level")))
	if err != nil {
		return Config{}, invalid(err, "log.stdout_level", v.GetString("log.stdout_level"))
	}
	c.Log = LogConfig{
		StdoutLevel:        stdoutLevel,
		HighPriorityOutput: nullString(v.GetString("log.high_priority_output")),
		DebugOutput:        nullString(v.GetString("log.debug_output")),
		MaxSize:            v.GetInt("log.max_size"),
		KeepDays:           v.GetInt("log.keep_days"),
		Publish:            v.GetBool("log.publish"),
	}
	if interval := v.GetInt("log.system_debug_stats_interval"); interval > 0 {
		c.Log.SystemDebugStatsInterval = nulls.NewInt(interval)
	}
	c.Arbitration = ArbitrationConfig{
		PollInterval:        v.GetDuration("arbitration.poll_interval"),
		ReleaseOnUnregister: v.GetBool("arbitration.release_on_unregister"),
		MockDisplays:        v.GetInt("arbitration.mock_displays"),
		MockGamepads:        v.GetBool("arbitration.mock_gamepads"),
	}
	c.Web = WebConfig{
		ListenAddr: v.GetString("web.listen_addr"),
	}
	c.MQTT = MQTTConfig{
		Addr:     nullString(v.GetString("mqtt.addr")),
		ClientID: v.GetString("mqtt.client_id"),
	}
	c.DB = DBConfig{
		Conn:     nullString(v.GetString("db.conn")),
		MaxConns: v.GetInt32("db.max_conns"),
	}
	err = Validate(c)
	if err != nil {
		return Config{}, errors.Wrap(err, "validate config", nil)
	}
	return c, nil
}

// Validate the given Config.
func Validate(c Config) error {
	if c.Web.ListenAddr == "" {
		return invalid(nil, "web.listen_addr", c.Web.ListenAddr)
	}
	if c.Arbitration.PollInterval <= 0 {
		return invalid(nil, "arbitration.poll_interval", c.Arbitration.PollInterval.String())
	}
	if c.Arbitration.MockDisplays < 0 {
		return invalid(nil, "arbitration.mock_displays", c.Arbitration.MockDisplays)
	}
	if c.Log.MaxSize < 0 {
		return invalid(nil, "log.max_size", c.Log.MaxSize)
	}
	if c.Log.KeepDays < 0 {
		return invalid(nil, "log.keep_days", c.Log.KeepDays)
	}
	if c.DB.MaxConns < 0 {
		return invalid(nil, "db.max_conns", c.DB.MaxConns)
	}
	if c.Log.Publish && !c.MQTT.Addr.Valid {
		return invalid(nil, "log.publish", "requires mqtt.addr")
	}
	return nil
}

// Watch calls the given function with the new Config each time the config file
// changes. Invalid changes are logged and skipped. Without config file, this is
// a no-op.
func (s *Source) Watch(logger *zap.Logger, onChange func(Config)) {
	if !s.fromFile {
		return
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		logger.Info("config file changed", zap.String("file", e.Name))
		c, err := s.Config()
		if err != nil {
			// Not logged via errors.Log as invalid config is fatal there.
			logger.Error("reload config", zap.String("file", e.Name), zap.String("err", errors.Prettify(err)))
			return
		}
		onChange(c)
	})
	s.v.WatchConfig()
}

func nullString(s string) nulls.String {
	if s == "" {
		return nulls.String{}
	}
	return nulls.NewString(s)
}

func invalid(err error, key string, value any) error {
	return errors.Error{
		Code:    errors.ErrFatal,
		Kind:    errors.KindInvalidConfig,
		Err:     err,
		Message: "invalid config value for " + key,
		Details: errors.Details{"key": key, "value": value},
	}
}

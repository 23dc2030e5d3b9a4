package valve_controller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VALVE_API_BASE_URL.
const EnvPrefix = "VALVE"

// Settings is the node configuration: file, env and defaults merged by viper.
type Settings struct {
	NodeID     string `mapstructure:"node_id"`
	Timezone   string `mapstructure:"timezone"`
	DataDir    string `mapstructure:"data_dir"`
	StdinAdmin bool   `mapstructure:"stdin_admin"`

	API struct {
		BaseURL      string        `mapstructure:"base_url"`
		IntentPath   string        `mapstructure:"intent_path"`
		SchedulePath string        `mapstructure:"schedule_path"`
		Timeout      time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`

	Intervals struct {
		ScheduleCheck time.Duration `mapstructure:"schedule_check"`
		RemotePoll    time.Duration `mapstructure:"remote_poll"`
		ScheduleSync  time.Duration `mapstructure:"schedule_sync"`
		ClockSync     time.Duration `mapstructure:"clock_sync"`
	} `mapstructure:"intervals"`

	NTP struct {
		Server     string        `mapstructure:"server"`
		Timeout    time.Duration `mapstructure:"timeout"`
		StaleAfter time.Duration `mapstructure:"stale_after"`
	} `mapstructure:"ntp"`

	Breaker struct {
		Failures int           `mapstructure:"failures"`
		OpenFor  time.Duration `mapstructure:"open_for"`
	} `mapstructure:"breaker"`

	Hardware struct {
		Driver   string `mapstructure:"driver"` // sim | raspi
		RelayPin string `mapstructure:"relay_pin"`
		LedPin   string `mapstructure:"led_pin"`
	} `mapstructure:"hardware"`

	MQTT struct {
		Host     string `mapstructure:"host"` // empty disables event publishing
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
	} `mapstructure:"mqtt"`

	Influx struct {
		URL    string `mapstructure:"url"` // empty disables history
		Token  string `mapstructure:"token"`
		Org    string `mapstructure:"org"`
		Bucket string `mapstructure:"bucket"`
	} `mapstructure:"influx"`

	HTTP struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"http"`

	GRPC struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"grpc"`

	Log struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"log"`
}

// SetDefaults registers a default for every key so env overrides resolve
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("node_id", "node-1")
	v.SetDefault("timezone", "Asia/Jakarta")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("stdin_admin", false)

	v.SetDefault("api.base_url", "http://192.168.1.10:5000")
	v.SetDefault("api.intent_path", "/api/water-status")
	v.SetDefault("api.schedule_path", "/api/schedules/esp32")
	v.SetDefault("api.timeout", 3*time.Second)

	v.SetDefault("intervals.schedule_check", time.Second)
	v.SetDefault("intervals.remote_poll", 5*time.Second)
	v.SetDefault("intervals.schedule_sync", time.Minute)
	v.SetDefault("intervals.clock_sync", time.Minute)

	v.SetDefault("ntp.server", "id.pool.ntp.org")
	v.SetDefault("ntp.timeout", DefaultSyncTimeout)
	v.SetDefault("ntp.stale_after", DefaultStaleAfter)

	v.SetDefault("breaker.failures", 3)
	v.SetDefault("breaker.open_for", 15*time.Second)

	v.SetDefault("hardware.driver", "sim")
	v.SetDefault("hardware.relay_pin", "11")
	v.SetDefault("hardware.led_pin", "13")

	v.SetDefault("mqtt.host", "")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.user", "guest")
	v.SetDefault("mqtt.password", "guest")

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "irrigation")
	v.SetDefault("influx.bucket", "valve")

	v.SetDefault("http.listen", ":8080")
	v.SetDefault("grpc.listen", ":50051")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// LoadSettings reads the optional file, applies VALVE_* env overrides and
// validates the result. A missing file is not an error.
func LoadSettings(v *viper.Viper, file string) (Settings, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("irrigation-node")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/irrigation-node")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	return s, s.Validate()
}

// Validate checks the values the node cannot start without.
func (s Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.NodeID) == "" {
		errs = append(errs, errors.New("node_id is required"))
	}
	if strings.TrimSpace(s.API.BaseURL) == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	switch s.Hardware.Driver {
	case "sim", "raspi":
	default:
		errs = append(errs, fmt.Errorf("hardware.driver %q: want sim or raspi", s.Hardware.Driver))
	}
	for name, d := range map[string]time.Duration{
		"intervals.schedule_check": s.Intervals.ScheduleCheck,
		"intervals.remote_poll":    s.Intervals.RemotePoll,
		"intervals.schedule_sync":  s.Intervals.ScheduleSync,
		"intervals.clock_sync":     s.Intervals.ClockSync,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

// Location resolves the configured zone.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// RemoteConfig maps the api and breaker sections.
func (s Settings) RemoteConfig() RemoteConfig {
	return RemoteConfig{
		BaseURL:      s.API.BaseURL,
		IntentPath:   s.API.IntentPath,
		SchedulePath: s.API.SchedulePath,
		Timeout:      s.API.Timeout,
		Failures:     s.Breaker.Failures,
		OpenFor:      s.Breaker.OpenFor,
	}
}

// EngineOptions maps the node, clock and interval sections.
func (s Settings) EngineOptions() Options {
	return Options{
		NodeID:   s.NodeID,
		Location: s.Location(),
		Intervals: Intervals{
			ScheduleCheck: s.Intervals.ScheduleCheck,
			RemotePoll:    s.Intervals.RemotePoll,
			ScheduleSync:  s.Intervals.ScheduleSync,
			ClockCheck:    s.Intervals.ClockSync,
		},
		StaleAfter: s.NTP.StaleAfter,
		NTPTimeout: s.NTP.Timeout,
	}
}

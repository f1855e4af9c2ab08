package server

import (
	"errors"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_epoll/consts"
	"github.com/Trinoooo/eggie_epoll/errs"
	"github.com/Trinoooo/eggie_epoll/logs"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Backlog        int           `mapstructure:"backlog"`
	EventCapacity  int           `mapstructure:"event_capacity"`
	ReadBufferSize int           `mapstructure:"read_buffer_size"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
	QuitCommand    string        `mapstructure:"quit_command"`
	WorkerCapacity int           `mapstructure:"worker_capacity"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	PushURL      string        `mapstructure:"push_url"`
	PushInterval time.Duration `mapstructure:"push_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Backlog:        consts.DefaultBacklog,
		EventCapacity:  consts.DefaultEventCapacity,
		ReadBufferSize: consts.DefaultReadBufferSize,
		WaitTimeout:    consts.DefaultWaitTimeout,
		QuitCommand:    consts.DefaultQuitCommand,
		WorkerCapacity: consts.DefaultWorkerCapacity,
		Metrics: MetricsConfig{
			PushInterval: consts.DefaultMetricsInterval,
		},
	}
}

func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("backlog", def.Backlog)
	v.SetDefault("event_capacity", def.EventCapacity)
	v.SetDefault("read_buffer_size", def.ReadBufferSize)
	v.SetDefault("wait_timeout", def.WaitTimeout)
	v.SetDefault("quit_command", def.QuitCommand)
	v.SetDefault("worker_capacity", def.WorkerCapacity)
	v.SetDefault("metrics.push_url", def.Metrics.PushURL)
	v.SetDefault("metrics.push_interval", def.Metrics.PushInterval)
}

// LoadConfig reads config.yaml from dir, falling back to defaults when the
// file does not exist. EGGIE_EPOLL_* environment variables override both,
// e.g. EGGIE_EPOLL_METRICS_PUSH_URL.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(consts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			e := errs.NewConfigErr().WithErr(err)
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, "dir"), zap.String(consts.LogFieldValue, dir))
			return nil, e
		}
		logs.Info("config file not found, use defaults", zap.String(consts.LogFieldValue, dir))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		e := errs.NewConfigErr().WithErr(err)
		logs.Error(e.Error())
		return nil, e
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	checks := []struct {
		name string
		bad  bool
	}{
		{"backlog", cfg.Backlog <= 0},
		{"event_capacity", cfg.EventCapacity <= 0},
		{"read_buffer_size", cfg.ReadBufferSize <= 0 || cfg.ReadBufferSize > consts.GB},
		{"worker_capacity", cfg.WorkerCapacity <= 0},
		{"metrics.push_interval", cfg.Metrics.PushURL != "" && cfg.Metrics.PushInterval <= 0},
	}
	for _, check := range checks {
		if check.bad {
			e := errs.NewInvalidParamErr()
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, check.name))
			return e
		}
	}
	return nil
}

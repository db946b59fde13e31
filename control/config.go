// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Loads loop and channel settings from viper and turns them into options.

package control

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/momentics/hioload-nio/channel"
	"github.com/momentics/hioload-nio/reactor"
)

// Configuration keys.
const (
	KeyLoops                = "loops"
	KeyWriteSpinCount       = "write-spin-count"
	KeyAutoRead             = "auto-read"
	KeyReadsPerWakeup       = "reads-per-wakeup"
	KeyContinueOnWriteError = "continue-on-write-error"
	KeyAutoClose            = "auto-close"
	KeyMaxEvents            = "max-events"
	KeyMaxTasksPerTick      = "max-tasks-per-tick"
	KeyLogLevel             = "log-level"
	KeyPinLoops             = "pin-loops"
)

// Config is the resolved runtime configuration.
type Config struct {
	Loops           int
	PinLoops        bool
	MaxEvents       int
	MaxTasksPerTick int
	LogLevel        zapcore.Level
	Channel         channel.Config
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	d := channel.DefaultConfig()
	v.SetDefault(KeyLoops, 0)
	v.SetDefault(KeyWriteSpinCount, d.WriteSpinCount)
	v.SetDefault(KeyAutoRead, d.AutoRead)
	v.SetDefault(KeyReadsPerWakeup, d.ReadsPerWakeup)
	v.SetDefault(KeyContinueOnWriteError, d.ContinueOnWriteError)
	v.SetDefault(KeyAutoClose, d.AutoClose)
	v.SetDefault(KeyMaxEvents, 256)
	v.SetDefault(KeyMaxTasksPerTick, 64)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyPinLoops, false)
}

// LoadConfig reads and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	level, err := zapcore.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", KeyLogLevel, err)
	}
	cfg := Config{
		Loops:           v.GetInt(KeyLoops),
		PinLoops:        v.GetBool(KeyPinLoops),
		MaxEvents:       v.GetInt(KeyMaxEvents),
		MaxTasksPerTick: v.GetInt(KeyMaxTasksPerTick),
		LogLevel:        level,
		Channel: channel.Config{
			WriteSpinCount:       v.GetInt(KeyWriteSpinCount),
			AutoRead:             v.GetBool(KeyAutoRead),
			ReadsPerWakeup:       v.GetInt(KeyReadsPerWakeup),
			ContinueOnWriteError: v.GetBool(KeyContinueOnWriteError),
			AutoClose:            v.GetBool(KeyAutoClose),
		},
	}
	for key, n := range map[string]int{
		KeyLoops:           cfg.Loops,
		KeyMaxEvents:       cfg.MaxEvents,
		KeyMaxTasksPerTick: cfg.MaxTasksPerTick,
		KeyWriteSpinCount:  cfg.Channel.WriteSpinCount,
		KeyReadsPerWakeup:  cfg.Channel.ReadsPerWakeup,
	} {
		if n < 0 {
			return Config{}, fmt.Errorf("invalid %s: %d is negative", key, n)
		}
	}
	return cfg, nil
}

// LoopOptions returns the reactor options for cfg.
func (c Config) LoopOptions(logger *zap.Logger) []reactor.Option {
	return []reactor.Option{
		reactor.WithLogger(logger),
		reactor.WithMaxEvents(c.MaxEvents),
		reactor.WithMaxTasksPerTick(c.MaxTasksPerTick),
		reactor.WithPinning(c.PinLoops),
	}
}

// ChannelOptions returns the channel options for cfg.
func (c Config) ChannelOptions(logger *zap.Logger) []channel.Option {
	return []channel.Option{
		channel.WithConfig(c.Channel),
		channel.WithLogger(logger),
	}
}

// NewLogger builds a production zap logger at the configured level.
func (c Config) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(c.LogLevel)
	return zc.Build()
}

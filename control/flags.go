// control/flags.go
// Author: momentics <momentics@gmail.com>
//
// Command-line flags for every configuration key, bound to viper.

package control

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-nio/channel"
)

// EnvPrefix prefixes environment overrides, e.g. HIOLOAD_AUTO_READ.
const EnvPrefix = "HIOLOAD"

// AddFlags defines a flag for every configuration key on flags.
func AddFlags(flags *pflag.FlagSet) {
	d := channel.DefaultConfig()
	flags.Int(KeyLoops, 0, "number of event loops (0 = one per CPU)")
	flags.Int(KeyWriteSpinCount, d.WriteSpinCount, "write attempts per entry before waiting for writability")
	flags.Bool(KeyAutoRead, d.AutoRead, "keep read interest registered after every wake-up")
	flags.Int(KeyReadsPerWakeup, d.ReadsPerWakeup, "read attempts per wake-up")
	flags.Bool(KeyContinueOnWriteError, d.ContinueOnWriteError, "fail only the offending entry on a write error")
	flags.Bool(KeyAutoClose, d.AutoClose, "close the channel when a flush fails with an I/O error")
	flags.Int(KeyMaxEvents, 256, "readiness events taken per wait")
	flags.Int(KeyMaxTasksPerTick, 64, "tasks run between two waits")
	flags.String(KeyLogLevel, "info", "log level (debug, info, warn, error)")
	flags.Bool(KeyPinLoops, false, "pin each event loop thread to its own CPU")
}

// BindFlags binds every configuration flag of flags to v and enables
// environment overrides.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, key := range []string{
		KeyLoops, KeyWriteSpinCount, KeyAutoRead, KeyReadsPerWakeup,
		KeyContinueOnWriteError, KeyAutoClose, KeyMaxEvents, KeyMaxTasksPerTick, KeyLogLevel,
		KeyPinLoops,
	} {
		f := flags.Lookup(key)
		if f == nil {
			return fmt.Errorf("flag %q is not defined", key)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", key, err)
		}
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return nil
}

// ReadConfigFile loads path into v when path is set.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration and telemetry layer of hioload-nio.
//
// Provides:
//   - viper-backed loading of loop and channel settings
//   - config file watching with reload hooks
//   - prometheus exposition of the loop and channel counters
package control

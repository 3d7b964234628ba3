// Package logcfg resolves the smplog configuration shared by the node
// binaries. All three (server, client, relay) log through the same setup so
// one config file governs them together.
package logcfg

import (
	"os"

	logs "github.com/danmuck/smplog"
)

// Load resolves logging configuration in precedence order: the
// SMPLOG_CONFIG environment variable, then well-known file locations,
// then built-in defaults. A path that fails to parse is passed over
// rather than aborting startup.
func Load() logs.Config {
	paths := []string{
		os.Getenv("SMPLOG_CONFIG"),
		"./smplog.config.toml",
		"./config/smplog.config.toml",
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if cfg, err := logs.ConfigFromFile(path); err == nil {
			return cfg
		}
	}
	return logs.DefaultConfig()
}

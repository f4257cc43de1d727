// Package dgshenv centralizes parsing of the DGSH_* environment
// variables, mirroring the way the teacher codebase centralizes EDS/CLI
// parsing in a single od_parser.go rather than scattering os.Getenv
// calls across the tree.
package dgshenv

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/ini.v1"
)

// Config is the resolved process-wide negotiation configuration.
type Config struct {
	// In/Out state whether stdin/stdout are already connected to the
	// graph (DGSH_IN / DGSH_OUT).
	In  bool
	Out bool

	// Timeout bounds the whole negotiation (DGSH_TIMEOUT, default 5s).
	Timeout time.Duration

	// DebugLevel gates diagnostics (DGSH_DEBUG_LEVEL).
	DebugLevel int

	// DotDrawPrefix, if non-empty, causes the initiator to also write
	// the solved graph (and the full candidate-edge graph) in DOT
	// format (DGSH_DOT_DRAW).
	DotDrawPrefix string

	// DrawExit, if true, causes a successful solve to emit DRAW_EXIT
	// instead of RUN (DGSH_DRAW_EXIT).
	DrawExit bool
}

const defaultTimeout = 5 * time.Second

// rcFile is the optional defaults file consulted before the
// DGSH_* environment variables are applied; it never overrides an
// explicitly set environment variable. This is a process-configuration
// convenience (not negotiation state) and carries no data across a
// negotiation itself, so it does not violate the "no persistence of
// negotiation state across restarts" non-goal.
const rcFile = ".dgshrc"

// Load resolves the configuration from the optional ~/.dgshrc ini file
// and the DGSH_* environment variables, the latter always taking
// precedence.
func Load() Config {
	cfg := Config{Timeout: defaultTimeout}
	applyRC(&cfg)
	applyEnv(&cfg)
	return cfg
}

func applyRC(cfg *Config) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := home + string(os.PathSeparator) + rcFile
	f, err := ini.Load(path)
	if err != nil {
		return
	}
	sec := f.Section("negotiate")
	if v, err := sec.Key("timeout_seconds").Int(); err == nil && v > 0 {
		cfg.Timeout = time.Duration(v) * time.Second
	}
	if v, err := sec.Key("debug_level").Int(); err == nil {
		cfg.DebugLevel = v
	}
}

func applyEnv(cfg *Config) {
	cfg.In = envBool("DGSH_IN", cfg.In)
	cfg.Out = envBool("DGSH_OUT", cfg.Out)

	if v, ok := os.LookupEnv("DGSH_TIMEOUT"); ok {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs) * time.Second
		}
	}
	if v, ok := os.LookupEnv("DGSH_DEBUG_LEVEL"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DebugLevel = n
		}
	}
	if v, ok := os.LookupEnv("DGSH_DOT_DRAW"); ok && v != "" {
		cfg.DotDrawPrefix = v
	}
	cfg.DrawExit = envBool("DGSH_DRAW_EXIT", cfg.DrawExit)
}

func envBool(name string, fallback bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback
	}
	return v == "1" || v == "true"
}

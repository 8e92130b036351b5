package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running process; every other changed section is listed
// in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections (e.g. "ingest", "room")
	// that only take effect after a restart.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	sections := []struct {
		name    string
		changed bool
	}{
		{"server.metrics_addr", old.Server.MetricsAddr != new.Server.MetricsAddr},
		{"ingest", old.Ingest != new.Ingest},
		{"relay", old.Relay != new.Relay},
		{"classifier", old.Classifier != new.Classifier},
		{"llm", old.LLM != new.LLM},
		{"speech", old.Speech != new.Speech},
		{"room", old.Room != new.Room},
	}
	for _, s := range sections {
		if s.changed {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

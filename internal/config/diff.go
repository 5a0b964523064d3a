package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when log.level differs; it is applied live.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists changed sections that only take effect on the
	// next start.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}

	if old.Server != new.Server {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.VAD != new.VAD {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}
	oldLog, newLog := old.Log, new.Log
	oldLog.Level, newLog.Level = "", ""
	if oldLog != newLog {
		d.RestartRequired = append(d.RestartRequired, "log")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

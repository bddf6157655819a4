package remote

import "time"

// Event describes a server lifecycle change published on Options.Events.
type Event struct {
	Server string
	Binary string
	PID    int
	// Err is set on a StoppedEvent when the process did not exit cleanly.
	Err      error
	Duration time.Duration
}

package dispatch

import "sync/atomic"

type counters struct {
	received        atomic.Int64
	gated           atomic.Int64
	commands        atomic.Int64
	commandFailures atomic.Int64
	triggers        atomic.Int64
	triggerFailures atomic.Int64
}

// Stats is a point-in-time copy of the dispatch counters.
type Stats struct {
	Received        int64 `json:"received"`
	Gated           int64 `json:"gated"`
	Commands        int64 `json:"commands"`
	CommandFailures int64 `json:"command_failures"`
	Triggers        int64 `json:"triggers"`
	TriggerFailures int64 `json:"trigger_failures"`
}

// Stats returns the counters accumulated since the dispatcher was created.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:        d.stats.received.Load(),
		Gated:           d.stats.gated.Load(),
		Commands:        d.stats.commands.Load(),
		CommandFailures: d.stats.commandFailures.Load(),
		Triggers:        d.stats.triggers.Load(),
		TriggerFailures: d.stats.triggerFailures.Load(),
	}
}

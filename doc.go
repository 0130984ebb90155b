/*
Package aegra streams the events of long-running agent executions to clients
over server-sent events, with durable replay across disconnects and multiple
server instances.

The package ties together three layers:

  - Channels: per-run pub/sub fan-out, in-process or distributed over Redis
    or NATS, with a registry that creates, locates and retires them
  - Event log: the durable, replayable record of every run's normalized
    events, backed by memory, SQLite or Postgres
  - Orchestrator: assigns event ids, enforces terminal-event exclusivity,
    drives execution engines and merges replayed history with live delivery

# Basic Usage

Wire the service from the environment and attach a client to a run:

	svc, err := aegra.NewStreaming(ctx, aegra.ConfigFromEnv())
	if err != nil {
		// Handle error
	}
	defer svc.Shutdown(ctx)

	frames, err := svc.Orchestrator.Stream(ctx, stream.Run{ID: runID, Attempt: 1}, lastEventID)
	if err != nil {
		// Handle error
	}
	for frame := range frames {
		// Write frame.String() to the SSE response
	}

A disconnected client reconnects with the last event id it saw; everything
after that id is replayed before live delivery resumes, without duplicates.

# Backends

With no configuration the service runs entirely in process: local channels
and an in-memory event log. Set REDIS_URL or NATS_URL to fan events out
across server instances, and DATABASE_URL or EVENTLOG_PATH to persist replay
state in Postgres or SQLite. When a distributed channel backend fails at
runtime the service degrades to in-process delivery for new events; stored
history keeps every event recoverable through replay.
*/
package aegra

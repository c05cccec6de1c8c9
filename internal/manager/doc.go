// Package manager coordinates the lifecycle of warren agents.
//
// # Overview
//
// The manager package owns the agent registry and execution dispatch. It
// creates agents, routes commands to the engine, enforces single-flight
// execution per agent, and handles cooperative interruption and archival.
//
// # Manager
//
// The Manager is the single entry point for agent operations:
//
//	mgr := manager.NewManager(store, engine, bus, pool, logger, opts)
//
// Key operations:
//
//   - CreateAgent(ctx, params): Register an agent and capture its session token
//   - CommandAgent(ctx, ref, command, taskID): Dispatch a command asynchronously
//   - CheckAgentStatus(ctx, ref, tail, offset, verbose): Report state plus event tail
//   - InterruptAgent(ctx, ref): Cancel a live execution cooperatively
//   - DeleteAgent(ctx, ref): Archive without interrupting
//   - ReportCost(ctx, sessionToken): Token and spend totals
//
// # Single-flight execution
//
// At most one execution runs per agent name at a time. The active map entry
// is the lock; CommandAgent fails fast with ErrAlreadyExecuting while it is
// held, and the execution goroutine releases it on every exit path.
//
// # Execution loop
//
// Each run detaches from the caller's context and translates the engine's
// message stream into recorded hook events: tool calls, response blocks,
// compaction (which resets the agent's token counters), and a terminal stop
// event carrying the outcome. Session tokens returned by the engine replace
// the agent's stored token, giving the next command conversational continuity.
package manager

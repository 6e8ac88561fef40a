// Package orchestrator runs the reload cycle.
//
// One goroutine, the one calling Run, owns every state transition:
//
//	Idle -> Restarting -> Idle
//	any  -> ShuttingDown -> Terminated
//
// A restart invalidates the module cache under the watch set, loads the
// entry again, shuts the old generation down and starts a new one. Change
// triggers that arrive while a restart is in progress are dropped. A failed
// load or bind leaves the supervisor running without a listener until the
// next change; missing certificates and a shutdown that cannot converge end
// the process.
package orchestrator

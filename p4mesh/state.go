package p4mesh

// State is the lifecycle state of a control plane worker and its switch session.
type State int32

const (
	// StateDisconnected is the initial state, no session exists yet.
	StateDisconnected State = iota
	// StateArbitrating means the session is open and mastership is being asserted.
	StateArbitrating
	// StatePipelineConfigured means we are master and the forwarding pipeline is committed.
	StatePipelineConfigured
	// StateRulesInstalled means every compiled rule was written.
	StateRulesInstalled
	// StateSteadyState means the worker is idle, holding the session so the switch keeps treating
	// us as master.
	StateSteadyState
	// StateShuttingDown means a shutdown was requested and the session is being closed.
	StateShuttingDown
	// StateTerminated means the worker exited cleanly.
	StateTerminated
	// StateFailed means the worker exited with a fatal error.
	StateFailed
)

// String returns the readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateArbitrating:
		return "Arbitrating"
	case StatePipelineConfigured:
		return "PipelineConfigured"
	case StateRulesInstalled:
		return "RulesInstalled"
	case StateSteadyState:
		return "SteadyState"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal returns true if the worker will not leave this state.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

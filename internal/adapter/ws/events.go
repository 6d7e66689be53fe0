package ws

// Typed payloads for the engine event stream. The event type string on the
// envelope comes from the broadcast port constants.

// NodeStatusEvent is broadcast when a node transitions state.
type NodeStatusEvent struct {
	ProjectID string `json:"project_id"`
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionStatusEvent is broadcast when a live session changes state,
// including the awaiting-input detection from the terminal monitor.
type SessionStatusEvent struct {
	SessionID       string `json:"session_id"`
	NodeID          string `json:"node_id,omitempty"`
	Status          string `json:"status"`
	WaitingForInput bool   `json:"waiting_for_input,omitempty"`
	Question        string `json:"question,omitempty"`
}

// SessionOutputEvent carries a streamed output line from a running agent.
type SessionOutputEvent struct {
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
}

// CheckResultEvent is broadcast when one check finishes evaluating.
type CheckResultEvent struct {
	SessionID string `json:"session_id"`
	CheckID   string `json:"check_id"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// ApprovalNeededEvent is broadcast when a human-approval check gates a
// session.
type ApprovalNeededEvent struct {
	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id"`
	CheckID   string `json:"check_id"`
}

// RunFinishedEvent is broadcast when a whole project run ends.
type RunFinishedEvent struct {
	ProjectID string `json:"project_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

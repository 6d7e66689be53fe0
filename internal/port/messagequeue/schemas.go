package messagequeue

// NodeStatusPayload is the schema for runs.events.node_status messages.
type NodeStatusPayload struct {
	ProjectID string `json:"project_id"`
	NodeID    string `json:"node_id"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionStatusPayload is the schema for runs.events.session_status messages.
type SessionStatusPayload struct {
	SessionID       string `json:"session_id"`
	NodeID          string `json:"node_id,omitempty"`
	Status          string `json:"status"`
	WaitingForInput bool   `json:"waiting_for_input,omitempty"`
	Question        string `json:"question,omitempty"`
}

// SessionOutputPayload is the schema for runs.events.session_output messages.
type SessionOutputPayload struct {
	SessionID string `json:"session_id"`
	Line      string `json:"line"`
}

// CheckResultPayload is the schema for runs.events.check_result messages.
type CheckResultPayload struct {
	SessionID string `json:"session_id"`
	CheckID   string `json:"check_id"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
}

// ApprovalNeededPayload is the schema for runs.events.approval_needed messages.
type ApprovalNeededPayload struct {
	SessionID string `json:"session_id"`
	NodeID    string `json:"node_id"`
	CheckID   string `json:"check_id"`
}

// RunFinishedPayload is the schema for runs.events.run_finished messages.
type RunFinishedPayload struct {
	ProjectID string `json:"project_id"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

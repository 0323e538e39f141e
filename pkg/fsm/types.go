package fsm

// TransferRequest is the FSM input. The engine itself is held by the Machine and
// looked up by RunID.
type TransferRequest struct {
	RunID    string
	DeviceID string
}

// TransferResponse is the FSM output (accumulated across transitions)
type TransferResponse struct {
	// Last phase executed by the engine
	Phase string

	// Set once the engine reaches a terminal state
	Outcome     string
	Description string
}

// State names
const (
	StateInit   = "init"
	StateBegin  = "begin"
	StateWrite  = "write"
	StateEnd    = "end"
	StateReboot = "reboot"
	StateDone   = "done"
)

// workflowName is the name the transfer FSM is registered under
const workflowName = "ota-transfer"

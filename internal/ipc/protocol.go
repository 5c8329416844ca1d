// Package ipc carries single-instance ownership and control commands over a unix socket.
package ipc

// Control commands accepted by a running parley session.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandReset  = "reset"
)

// Request is one newline-delimited JSON control command.
type Request struct {
	Command string `json:"command"`
}

// Response reports the outcome of one control command.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Turns   int    `json:"turns,omitempty"`
	Dropped int64  `json:"dropped,omitempty"`
}

// Package domain defines the core types shared by the sender and receiver.
package domain

// CommandRequest is the message an agent asks the management endpoint to execute.
// Field order is significant: it is the order of keys in the canonical encoding.
type CommandRequest struct {
	ID          string                 `json:"id"`
	Nonce       string                 `json:"nonce"`
	Timestamp   int64                  `json:"timestamp"`
	Action      string                 `json:"action"`
	Params      map[string]interface{} `json:"params"`
	AutoExecute bool                   `json:"auto_execute"`
}

// TextCommand is a free-form command sent to /command.
type TextCommand struct {
	ID          string `json:"id"`
	Nonce       string `json:"nonce"`
	Timestamp   int64  `json:"timestamp"`
	Text        string `json:"text"`
	AutoExecute bool   `json:"auto_execute"`
}

// Envelope is the unit put on the wire: canonical body bytes plus their signature.
type Envelope struct {
	Body      []byte
	Signature string
}

// PeerInfo summarises the TLS client certificate presented by a caller.
type PeerInfo struct {
	Verified    bool   `json:"verified"`
	CommonName  string `json:"cn,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// InboundRequest is what the transport hands to the receiver service.
type InboundRequest struct {
	Raw       []byte
	Signature string
	Peer      *PeerInfo
	Origin    string
}

// ParsedCommand is the action derived from a TextCommand.
type ParsedCommand struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

package paths

// Topic segments shared by the node and the server.
// Every topic is built as {root}/{segment}/{nodeID}.

// Downstream: Server -> Node
const (
	// Command carries update commands.
	// Payload: { "requestId": "...", "update": { "url", "size", "md5", "restart" } }
	Command = "command"
)

// Upstream: Node -> Server
const (
	// Result carries update results.
	// Payload: { "type": "result", "requestId": "...", "update": { "status", "detail" } }
	Result = "result"

	// Register is published once after the link is up.
	// Payload: { "type": "reg", "firmwareVersion": "...", "peripherals": [...] }
	Register = "register"

	// Telemetry carries sensor readings.
	// Payload: { "type": "tel", "peripheral": "...", "value": 1.5 }
	Telemetry = "telemetry"

	// Online reports the node's presence. The offline payload is the last will.
	// Payload: { "online": true/false }
	Online = "online"
)

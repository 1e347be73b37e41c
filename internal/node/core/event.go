package core

type EventType string

const (
	EventUpdateCommand EventType = "update.command"
	EventUpdateResult  EventType = "update.result"
	EventRegister      EventType = "node.register"
	EventOnline        EventType = "node.online"
	EventTelemetry     EventType = "sensor.telemetry"
)

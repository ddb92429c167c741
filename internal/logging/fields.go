package logging

// Standard field names shared across components.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldTool      = "tool"
	FieldAddress   = "address"
	FieldPID       = "pid"
	FieldErrorHint = "error_hint"
)

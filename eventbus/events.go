package eventbus

// Well-known event names emitted by the pipeline and its supporting
// components. Callers may also use ad hoc names; the bus creates counters on
// first use.
const (
	// EventBundleAdded fires once per bundle committed to the store.
	EventBundleAdded = "bundle_added"

	// Per-kind events fire once per successfully decoded and processed
	// packet of that kind.
	EventBulkSensor   = "bulk_sensor"
	EventSingleSensor = "single_sensor"
	EventMessage      = "message"
	EventConfig       = "config"
	EventStatusPing   = "status_ping"

	// EventDecodeError fires once per frame the codec rejected.
	EventDecodeError = "decode_error"

	// Outbound command lifecycle.
	EventCommandSent    = "command_sent"
	EventCommandDropped = "command_dropped"
	EventSendError      = "send_error"

	// Autosave outcomes.
	EventAutosaveOK    = "autosave_ok"
	EventAutosaveError = "autosave_error"
)

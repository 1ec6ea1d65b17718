package domain

// Push-channel event names for command results (server -> viewer).
const (
	EventPictureTaken     = "picture_taken"
	EventAnalysisComplete = "analysis_complete"
	EventAnalysisError    = "analysis_error"
	EventDisplayAck       = "display_ack"
	EventDisplayError     = "display_error"
	EventOLEDAck          = "oled_ack"
	EventOLEDError        = "oled_error"
	EventCommandError     = "command_error"
)

// Event is one push-channel frame. Data is JSON-encoded as-is; a nil Data
// encodes as null, which viewers read as "no data yet".
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data"`
}

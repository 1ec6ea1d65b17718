package domain

// Channel is a logical sensor stream, distinct from its wire-level topic.
type Channel string

const (
	ChannelTemperature Channel = "temperature"
	ChannelHumidity    Channel = "humidity"
	ChannelDistance    Channel = "distance"
	ChannelLight       Channel = "light"
)

// Binding ties a channel to its inbound transport topic and the event name
// used on the push channel.
type Binding struct {
	Channel Channel `yaml:"channel"`
	Topic   string  `yaml:"topic"`
	Event   string  `yaml:"event"`
}

// Reading is the last payload seen for a channel. The zero value means the
// channel never received anything, which is distinct from an empty payload.
type Reading struct {
	Value string
	Set   bool
}

// ChannelReading pairs a channel with its current reading.
type ChannelReading struct {
	Channel Channel
	Reading Reading
}

// ReadingSource is the read-only view of the latest-value store.
type ReadingSource interface {
	Get(channel Channel) Reading
	Snapshot() []ChannelReading
}

package domain

import "time"

// Event is an external occurrence received from the broker or the
// management API. It is immutable once received.
type Event struct {
	ID         string
	Type       string
	Payload    map[string]string
	OccurredAt time.Time
}

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

func ParseChannel(s string) (Channel, bool) {
	switch Channel(s) {
	case ChannelEmail, ChannelSMS:
		return Channel(s), true
	default:
		return "", false
	}
}

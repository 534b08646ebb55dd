package amqp

import (
	"encoding/json"
	"time"

	"conti/internal/ledger"
)

// LedgerEventMessage carries one committed change. Consumers re-read the
// records named by the event instead of trusting a copy in the message.
type LedgerEventMessage struct {
	Event       ledger.Event `json:"event"`
	PublishedAt time.Time    `json:"publishedAt"`
}

func NewLedgerEventMessage(ev ledger.Event) *LedgerEventMessage {
	return &LedgerEventMessage{
		Event:       ev,
		PublishedAt: time.Now().UTC(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

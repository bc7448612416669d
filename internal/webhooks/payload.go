package webhooks

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Event is the provider's webhook envelope. Only the transaction block is
// consumed; everything else is ignored.
type Event struct {
	Event     string    `json:"event"`
	Timestamp int64     `json:"timestamp"`
	Data      EventData `json:"data"`
}

type EventData struct {
	Transaction Transaction `json:"transaction"`
}

type Transaction struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

const referencePrefix = "ref_"

// ParseEvent decodes and validates the webhook body. A payload missing the
// transaction id, reference or status is rejected.
func ParseEvent(raw []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, err
	}
	txn := event.Data.Transaction
	if strings.TrimSpace(txn.ID) == "" ||
		strings.TrimSpace(txn.Reference) == "" ||
		strings.TrimSpace(txn.Status) == "" {
		return nil, errIncompleteTransaction
	}
	return &event, nil
}

// OrderID recovers the order id embedded in the reference.
func (t Transaction) OrderID() (uuid.UUID, error) {
	ref := strings.TrimSpace(t.Reference)
	if !strings.HasPrefix(ref, referencePrefix) {
		return uuid.Nil, errUnknownReference
	}
	id, err := uuid.Parse(strings.TrimPrefix(ref, referencePrefix))
	if err != nil {
		return uuid.Nil, errUnknownReference
	}
	return id, nil
}

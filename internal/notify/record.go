package notify

import (
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes received pushes from app-initiated sends.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// Record is one entry in the notification history.
type Record struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Body          string                 `json:"body"`
	TimestampMS   int64                  `json:"timestamp"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Direction     Direction              `json:"direction"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

const defaultTitle = "Notification"

// newSentRecord builds a history record for an app-initiated send.
func newSentRecord(title, body string, data map[string]interface{}) Record {
	if title == "" {
		title = defaultTitle
	}
	return Record{
		ID:          uuid.NewString(),
		Title:       title,
		Body:        body,
		TimestampMS: time.Now().UnixMilli(),
		Data:        data,
		Direction:   DirectionSent,
	}
}

// newReceivedRecord builds a history record from an incoming message.
func newReceivedRecord(msg Message) Record {
	title := msg.Title
	if title == "" {
		title = defaultTitle
	}
	return Record{
		ID:            uuid.NewString(),
		Title:         title,
		Body:          msg.Body,
		TimestampMS:   time.Now().UnixMilli(),
		Data:          msg.Data,
		Direction:     DirectionReceived,
		CorrelationID: msg.ID,
	}
}

package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	RecordID  string    `json:"record_id"`
	AccountID string    `json:"account_id"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger emits structured audit events for every balance mutation.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(transactionID, senderID, receiverID, amount, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "TRANSFER",
		RecordID:  transactionID,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"sender_id":   senderID,
			"receiver_id": receiverID,
		},
	})
}

func (a *Logger) LogRequest(kind, requestID, accountID, amount, status string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: kind,
		RecordID:  requestID,
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *Logger) LogError(recordID, accountID string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		RecordID:  recordID,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}

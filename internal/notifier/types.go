package notifier

import "time"

const (
	DefaultSubject = "Transaction Processed"

	EventSent       = "notifier.sent"
	EventFailed     = "notifier.failed"
	EventSuppressed = "notifier.suppressed"
)

// Config controls email delivery.
type Config struct {
	Enabled       bool
	URL           string
	Recipient     string
	From          string
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	Timeout       time.Duration
	DedupWindow   time.Duration
	HistorySize   int
}

// Message is the JSON body accepted by the email service.
type Message struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	From      string `json:"from,omitempty"`
}

type HistoryItem struct {
	At       time.Time `json:"at"`
	Date     string    `json:"date"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

// NotificationEvent is published on the event bus after each delivery.
type NotificationEvent struct {
	Date      string    `json:"date"`
	Recipient string    `json:"recipient"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
	Error     string    `json:"error,omitempty"`
}

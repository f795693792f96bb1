package email

import "time"

// Status of a delivery attempt.
type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Attempt describes one call to Send, after the input checks passed. It
// carries no message body.
type Attempt struct {
	MessageID string    `json:"messageID" yaml:"messageID"`
	From      string    `json:"from" yaml:"from"`
	To        string    `json:"to" yaml:"to"`
	Subject   string    `json:"subject" yaml:"subject"`
	Status    Status    `json:"status" yaml:"status"`
	Stage     Stage     `json:"stage,omitempty" yaml:"stage,omitempty"`
	Code      int       `json:"code,omitempty" yaml:"code,omitempty"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	Time      time.Time `json:"time" yaml:"time"`
}

// Recorder keeps a diagnostic trail of delivery attempts. Errors returned
// by Record are logged and otherwise ignored.
type Recorder interface {
	Record(Attempt) error
}

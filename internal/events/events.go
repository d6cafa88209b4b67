// Package events provides the message channel used between the QA review
// service and its collaborators: named topics with fanout semantics, durable
// per-subscriber queues and at-least-once delivery.
package events

import (
	"errors"
	"time"
)

// Topic names are a fixed contract shared with the upload pipeline and the
// storage service.
const (
	TopicDataReceived       = "dataReceived"
	TopicDataQualityAssured = "dataQualityAssured"
	TopicDataStored         = "dataStored"
)

// Message is a single delivery on a topic. Payload is a JSON document.
type Message struct {
	ID        string    // unique message identifier
	Topic     string    // topic the message was published to
	Payload   []byte    // JSON-encoded body
	Attempts  int       // delivery attempts so far, 1 on first delivery
	Timestamp time.Time // publish time
}

// permanentError marks a handler failure that must not be redelivered,
// e.g. a malformed payload that will never parse.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string {
	return p.err.Error()
}

func (p *permanentError) Unwrap() error {
	return p.err
}

// Permanent wraps err so the bus rejects the message without redelivery.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is a permanent rejection.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

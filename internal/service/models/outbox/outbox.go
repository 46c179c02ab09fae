package outbox

import (
	"time"
)

// OutboxMessage represents an event that failed to be published to RabbitMQ
// and waits for redelivery.
type OutboxMessage struct {
	ID           int64
	EventID      string
	EventType    string
	ExchangeName string
	RoutingKey   string
	Payload      []byte
	ContentType  string
	RetryCount   int
	MaxRetries   int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	NextRetryAt  time.Time
}

// Ready reports whether the message is due for another delivery attempt.
func (m OutboxMessage) Ready(now time.Time) bool {
	return m.RetryCount < m.MaxRetries && !m.NextRetryAt.After(now)
}

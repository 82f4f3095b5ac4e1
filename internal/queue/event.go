// Package queue moves registration events over RabbitMQ.  Every outbox
// topic is published to a durable queue of the same name on the default
// exchange.
package queue

import "github.com/iliyamo/runclub-portal/internal/model"

// Queues consumed by the notification worker.
var Queues = []string{
	model.TopicRegistrationConfirmed,
	model.TopicRegistrationExpired,
}

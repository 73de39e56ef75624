package utils

import (
	"slices"

	"github.com/nats-io/nats.go"
)

// StreamConfigEqual compares the stream properties this service manages.
// Server-assigned defaults are ignored.
func StreamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Retention == b.Retention &&
		a.MaxMsgs == b.MaxMsgs &&
		a.MaxAge == b.MaxAge &&
		a.Storage == b.Storage &&
		slices.Equal(a.Subjects, b.Subjects)
}

// ConsumerConfigEqual compares the consumer properties this service manages.
// DeliverSubject is excluded since push consumers get a fresh inbox per start.
func ConsumerConfigEqual(a, b nats.ConsumerConfig) bool {
	return a.Durable == b.Durable &&
		a.AckPolicy == b.AckPolicy &&
		a.FilterSubject == b.FilterSubject &&
		slices.Equal(a.FilterSubjects, b.FilterSubjects) &&
		a.DeliverGroup == b.DeliverGroup &&
		a.MaxDeliver == b.MaxDeliver &&
		a.AckWait == b.AckWait
}

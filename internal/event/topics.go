package event

import (
	"strings"

	"github.com/utafrali/searchsync/internal/domain"
	"github.com/utafrali/searchsync/pkg/kafka"
)

// ChangedAction is the action segment of every change topic.
const ChangedAction = "changed"

// SourceDomains lists the producing domains the sync engine subscribes to.
func SourceDomains() []string {
	return []string{"catalog", "pricing", "inventory", "reviews"}
}

// TopicFor returns the change topic for a producing domain, e.g.
// "ecommerce.catalog.changed".
func TopicFor(source string) string {
	return kafka.Topic(source, ChangedAction)
}

// Topics returns every change topic the engine consumes.
func Topics() []string {
	domains := SourceDomains()
	topics := make([]string, len(domains))
	for i, d := range domains {
		topics[i] = TopicFor(d)
	}
	return topics
}

// TopicForType returns the topic the producer of an event type publishes
// on. Event types are prefixed with their producing domain.
func TopicForType(t domain.EventType) string {
	source, _, _ := strings.Cut(string(t), ".")
	return TopicFor(source)
}

package events

import (
	"fmt"
	"os"

	"github.com/oklog/ulid/v2"
)

// NewConsumerID returns a unique consumer name for the Redis consumer group.
// The hostname prefix keeps XINFO CONSUMERS output readable.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), ulid.Make().String())
}

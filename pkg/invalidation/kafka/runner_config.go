package kafka

import (
	"strings"
	"time"
)

type Config struct {
	Enabled bool

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

// FromSettings fills in the consumer-group defaults around the values
// the engine config carries.
func FromSettings(enabled bool, brokers, topic, groupID string) Config {
	if topic == "" {
		topic = "trip-data-invalidation"
	}
	if groupID == "" {
		groupID = "offline-engine"
	}
	return Config{
		Enabled:          enabled,
		Brokers:          split(brokers),
		Topic:            topic,
		GroupID:          groupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    true,
	}
}

func split(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

package queue

import "wesgateway/internal/config"

// Options controls how the tracker dispatch queue connects to NATS/JetStream.
type Options struct {
	Enabled       bool
	URL           string
	Stream        string
	SubjectPrefix string
	ConsumerName  string
	Embedded      bool
}

// FromConfig adapts the gateway's NATS configuration block into queue Options.
func FromConfig(cfg config.NATSConfig) Options {
	return Options{
		Enabled:       cfg.Enabled,
		URL:           cfg.URL,
		Stream:        cfg.Stream,
		SubjectPrefix: cfg.SubjectPrefix,
		ConsumerName:  cfg.ConsumerName,
		Embedded:      cfg.Embedded,
	}
}

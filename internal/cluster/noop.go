package cluster

import "context"

func init() {
	Register("noop", func(ProviderConfig) (Bus, error) { return noopBus{}, nil })
}

// noopBus is used when clustering is disabled: publishes are dropped and nothing is ever delivered.
type noopBus struct{}

func (noopBus) Publish(context.Context, Message) error { return nil }

func (noopBus) Subscribe(ctx context.Context, _ Handler) error {
	<-ctx.Done()
	return nil
}

func (noopBus) Close() error { return nil }

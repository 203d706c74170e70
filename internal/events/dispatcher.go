package events

import "context"

// Publisher delivers events to topic-scoped subscribers. Implementations must
// not block on delivery and must not report delivery failures to the caller.
type Publisher interface {
	Publish(ctx context.Context, event Event, targets ...Topic)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event, targets ...Topic)

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, event Event, targets ...Topic) {
	f(ctx, event, targets...)
}

// Discard drops every event; used when the realtime layer is disabled.
var Discard Publisher = PublisherFunc(func(context.Context, Event, ...Topic) {})

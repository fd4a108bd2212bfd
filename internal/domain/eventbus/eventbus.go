package eventbus

// Publisher is what domain services need from the bus.
type Publisher interface {
	PublishAsync(topic string, args ...any)
}

var _ Publisher = (*AsyncEventBus)(nil)

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) PublishAsync(string, ...any) {}

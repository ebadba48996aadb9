package events

import "context"

// Handler consumes bus events. Each subscription gets its own worker, so a
// slow handler (a chat API call, a database write) only delays itself.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Publisher is the side of the bus the control loop sees.
type Publisher interface {
	Publish(event Event) error
}

type typeSet map[EventType]struct{}

func newTypeSet(types []EventType) typeSet {
	if len(types) == 0 {
		types = AllTypes
	}
	set := make(typeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func (s typeSet) has(t EventType) bool {
	_, ok := s[t]
	return ok
}

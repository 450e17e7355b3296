package events

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aestimo/internal/interfaces"
)

// Service is the in-process event bus. Session status changes, processing
// progress, and log events fan out through it to the websocket layer.
type Service struct {
	mu     sync.RWMutex
	subs   map[interfaces.EventType][]interfaces.EventHandler
	logger arbor.ILogger
}

// NewService creates a new event service
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subs:   make(map[interfaces.EventType][]interfaces.EventHandler),
		logger: logger,
	}
}

// snapshot copies the handler list for a type so delivery never runs under
// the lock.
func (s *Service) snapshot(eventType interfaces.EventType) []interfaces.EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]interfaces.EventHandler(nil), s.subs[eventType]...)
}

// Subscribe registers a handler for an event type
func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	s.mu.Lock()
	s.subs[eventType] = append(s.subs[eventType], handler)
	count := len(s.subs[eventType])
	s.mu.Unlock()

	s.logger.Debug().
		Str("event_type", string(eventType)).
		Int("subscriber_count", count).
		Msg("Event handler subscribed")
	return nil
}

// Unsubscribe drops a previously registered handler. Go functions have no
// equality, so identity is the function pointer.
func (s *Service) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	target := reflect.ValueOf(handler).Pointer()

	s.mu.Lock()
	defer s.mu.Unlock()
	handlers := s.subs[eventType]
	for i, h := range handlers {
		if reflect.ValueOf(h).Pointer() != target {
			continue
		}
		s.subs[eventType] = append(handlers[:i], handlers[i+1:]...)
		s.logger.Debug().
			Str("event_type", string(eventType)).
			Msg("Event handler unsubscribed")
		return nil
	}
	return fmt.Errorf("handler not found for event type: %s", eventType)
}

// Publish delivers an event without waiting on its handlers. Progress and
// log events arrive at high frequency during processing; a slow websocket
// client must never stall the pipeline.
func (s *Service) Publish(ctx context.Context, event interfaces.Event) error {
	handlers := s.snapshot(event.Type)
	if len(handlers) == 0 {
		return nil
	}

	go func() {
		for _, handler := range handlers {
			if err := handler(ctx, event); err != nil {
				s.logger.Error().Err(err).
					Str("event_type", string(event.Type)).
					Msg("Event handler failed")
			}
		}
	}()
	return nil
}

// PublishSync delivers an event to each handler in subscription order and
// reports how many failed.
func (s *Service) PublishSync(ctx context.Context, event interfaces.Event) error {
	handlers := s.snapshot(event.Type)

	failed := 0
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			s.logger.Error().Err(err).
				Str("event_type", string(event.Type)).
				Msg("Event handler failed")
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("event %s: %d errors from %d handlers", event.Type, failed, len(handlers))
	}
	return nil
}

// Close drops all subscriptions
func (s *Service) Close() error {
	s.mu.Lock()
	s.subs = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.mu.Unlock()

	s.logger.Info().Msg("Event service closed")
	return nil
}

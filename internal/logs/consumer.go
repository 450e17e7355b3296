package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/aestimo/internal/interfaces"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"
)

// Entry is the payload broadcast for each streamed log line. SessionID is
// set when the originating logger carried a correlation ID, which the
// processing pipeline uses to tag per-session work.
type Entry struct {
	SessionID string `json:"session_id,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Consumer drains arbor's batch channel and republishes entries at or above
// the configured level as log_event events, which the websocket layer
// streams to the UI.
type Consumer struct {
	eventService  interfaces.EventService
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minEventLevel arbor.LogLevel
	publishing    sync.Map // Track entries being published to prevent recursion
}

// NewConsumer creates a log consumer publishing to the event service
func NewConsumer(eventService interfaces.EventService, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		eventService:  eventService,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minEventLevel: parseLogLevel(minEventLevel),
	}
}

var levelsByName = map[string]arbor.LogLevel{
	"debug":   arbor.DebugLevel,
	"info":    arbor.InfoLevel,
	"warn":    arbor.WarnLevel,
	"warning": arbor.WarnLevel,
	"error":   arbor.ErrorLevel,
}

// parseLogLevel converts a config level name to arbor.LogLevel, defaulting
// to info for anything unrecognized.
func parseLogLevel(levelStr string) arbor.LogLevel {
	if level, ok := levelsByName[strings.ToLower(levelStr)]; ok {
		return level
	}
	return arbor.InfoLevel
}

var shortLevelNames = map[string]string{
	"DEBUG":   "DBG",
	"INFO":    "INF",
	"WARN":    "WRN",
	"WARNING": "WRN",
	"ERROR":   "ERR",
	"FATAL":   "FTL",
}

// shortLevel folds a level name to the 3-letter code the UI renders, the
// same codes arbor's console writer prints.
func shortLevel(level string) string {
	upper := strings.ToUpper(level)
	if short, ok := shortLevelNames[upper]; ok {
		return short
	}
	if len(upper) == 3 {
		return upper
	}
	return "INF"
}

// GetChannel returns the channel for arbor to send log batches to
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop gracefully shuts down the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
	return nil
}

// consume processes log batches from arbor until the channel closes or the
// consumer is stopped
func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			// Logger without correlation ID avoids recursive channel processing
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				if isRequestNoise(event.Message) {
					continue
				}
				if c.shouldPublish(event.Level) {
					c.publishEntry(event)
				}
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// isRequestNoise filters per-request middleware lines and websocket client
// chatter out of the UI stream; those exist for tracing, not for users.
func isRequestNoise(message string) bool {
	return message == "HTTP request" ||
		message == "HTTP request - client error" ||
		message == "HTTP request - server error" ||
		strings.Contains(message, "WebSocket client")
}

// shouldPublish checks a log event against the level threshold
func (c *Consumer) shouldPublish(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minEventLevel
}

// publishEntry republishes one log event for UI consumption. A short-lived
// guard keyed on correlation ID and message prevents an event handler that
// logs from feeding its own output back through the consumer.
func (c *Consumer) publishEntry(event arbormodels.LogEvent) {
	entry := transformEvent(event)

	key := fmt.Sprintf("%s:%s", entry.SessionID, entry.Message)
	if _, loaded := c.publishing.LoadOrStore(key, true); loaded {
		return
	}
	defer c.publishing.Delete(key)

	if err := c.eventService.Publish(c.ctx, interfaces.Event{
		Type:    interfaces.EventLogEvent,
		Payload: entry,
	}); err != nil {
		c.logger.Warn().
			Err(err).
			Str("session_id", entry.SessionID).
			Msg("Failed to publish log event")
	}
}

// transformEvent converts an arbor LogEvent into the broadcast payload.
// Structured fields are flattened into the message in stable order so the
// streamed line reads like the console output.
func transformEvent(event arbormodels.LogEvent) Entry {
	message := event.Message
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			message += fmt.Sprintf(" %s=%v", key, event.Fields[key])
		}
	}

	return Entry{
		SessionID: event.CorrelationID,
		Level:     shortLevel(event.Level.String()),
		Message:   message,
		Timestamp: event.Timestamp.Format(time.RFC3339),
	}
}

package telemetry

import (
	"context"
	"strings"
	"sync"
	"time"

	plog "github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scribo/internal/interfaces"
)

// maxEvents caps the in-memory event ring
const maxEvents = 512

// Service records operational events. Demoted failures land here instead
// of in job errors: the record is the contract, so Record never fails.
type Service struct {
	mu       sync.RWMutex
	counters map[string]int64
	events   []interfaces.TelemetryEvent
	logger   arbor.ILogger
}

// NewService creates a telemetry recorder
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		counters: make(map[string]int64),
		logger:   logger,
	}
}

// Record stores an event, increments its counter and logs it at the
// severity implied by its name.
func (s *Service) Record(name string, fields map[string]interface{}) {
	level := severityFor(name)

	s.mu.Lock()
	s.counters[name]++
	s.events = append(s.events, interfaces.TelemetryEvent{
		Name:       name,
		Severity:   level.String(),
		Fields:     fields,
		RecordedAt: time.Now().UTC(),
	})
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	s.mu.Unlock()

	if s.logger == nil {
		return
	}

	event := s.logger.Info()
	switch level {
	case plog.WarnLevel:
		event = s.logger.Warn()
	case plog.ErrorLevel:
		event = s.logger.Error()
	}
	event = event.Str("telemetry", name)
	for key, value := range fields {
		event = event.Interface(key, value)
	}
	event.Msg("Telemetry event recorded")
}

// Count returns how many times an event name has been recorded
func (s *Service) Count(name string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters[name]
}

// Events returns a copy of the recent events, oldest first
func (s *Service) Events() []interfaces.TelemetryEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]interfaces.TelemetryEvent, len(s.events))
	copy(out, s.events)
	return out
}

// JobStatusSubscriber returns an event handler counting terminal job
// outcomes, wired to the event bus at startup.
func (s *Service) JobStatusSubscriber() interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}
		status, _ := payload["status"].(string)
		switch status {
		case "SUCCEEDED", "FAILED", "CANCELLED":
			s.Record("job_"+strings.ToLower(status), map[string]interface{}{
				"job_id": payload["job_id"],
			})
		}
		return nil
	}
}

// severityFor maps an event name onto a phuslu log level. Failure events
// warn; everything else is informational.
func severityFor(name string) plog.Level {
	switch {
	case strings.HasSuffix(name, "_failed"), strings.HasSuffix(name, "_reaped"):
		return plog.WarnLevel
	case strings.HasSuffix(name, "_panic"):
		return plog.ErrorLevel
	default:
		return plog.InfoLevel
	}
}

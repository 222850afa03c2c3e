package notifier

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"anime-recs-api/logcolors"

	log "github.com/sirupsen/logrus"
)

const DefaultAlertCooldown = 15 * time.Minute

// AlertHandler turns events into notifications, sending at most one alert
// per event type per cooldown.
type AlertHandler struct {
	notifiers        []Notifier
	cooldowns        map[EventType]time.Time // last alert per event type
	cooldownDuration time.Duration
	now              func() time.Time
	mu               sync.Mutex
}

type AlertConfig struct {
	Notifiers        []Notifier
	CooldownDuration time.Duration
}

func NewAlertHandler(config AlertConfig) *AlertHandler {
	cooldown := config.CooldownDuration
	if cooldown <= 0 {
		cooldown = DefaultAlertCooldown
	}

	return &AlertHandler{
		notifiers:        config.Notifiers,
		cooldowns:        make(map[EventType]time.Time),
		cooldownDuration: cooldown,
		now:              time.Now,
	}
}

// Start subscribes the handler to every event on bus.
func (h *AlertHandler) Start(bus *EventBus) {
	bus.SubscribeAll(h.handleEvent)
	log.Infof("%s Alert handler started (cooldown: %v, notifiers: %d)",
		logcolors.LogNotifier, h.cooldownDuration, len(h.notifiers))
}

func (h *AlertHandler) handleEvent(event *Event) {
	subject, message := formatAlert(event)
	if subject == "" {
		return
	}

	if !h.shouldAlert(event.Type) {
		log.Debugf("%s Skipping alert for %s (cooldown active)", logcolors.LogNotifier, event.Type)
		return
	}

	h.sendAlert(subject, message)
}

func (h *AlertHandler) shouldAlert(eventType EventType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	last, ok := h.cooldowns[eventType]
	if !ok || now.Sub(last) >= h.cooldownDuration {
		h.cooldowns[eventType] = now
		return true
	}
	return false
}

// formatAlert returns an empty subject for event types it does not know.
func formatAlert(event *Event) (subject, message string) {
	switch event.Type {
	case EventCircuitBreakerOpen:
		subject = "Circuit breaker OPEN"
		message = fmt.Sprintf(
			"The %s circuit breaker tripped after %v consecutive failures.\n\n"+
				"Catalog calls are refused for %v and requests return empty results.\n\n"+
				"Action: check the catalog API status.",
			event.Data["name"], event.Data["failures"], event.Data["cooldown"])

	case EventCatalogOutage:
		genres, _ := event.Data["genres"].([]string)
		subject = "Catalog outage"
		message = fmt.Sprintf(
			"Every catalog query failed for %q.\n\n"+
				"Genres: %s\n"+
				"First error: %v",
			event.Data["text"], strings.Join(genres, ", "), event.Data["error"])

	case EventCacheSnapshotFailed:
		subject = "Cache snapshot failed"
		message = fmt.Sprintf("Failed to write the response cache snapshot.\n\nError: %v\n\n"+
			"Action: check disk space and permissions.", event.Data["error"])

	case EventCircuitBreakerRecovered:
		subject = "Circuit breaker recovered"
		message = fmt.Sprintf("The %s circuit breaker closed and catalog calls resumed.", event.Data["name"])

	case EventServerStarted:
		subject = "Server started"
		message = fmt.Sprintf("Server started on port %v with %v genres.", event.Data["port"], event.Data["genres"])

	case EventCacheCleared:
		subject = "Cache cleared"
		message = fmt.Sprintf("The response cache was cleared (%v entries).", event.Data["cleared"])

	default:
		return "", ""
	}

	return "[" + strings.ToUpper(string(event.Severity)) + "] " + subject, message
}

func (h *AlertHandler) sendAlert(subject, message string) {
	if len(h.notifiers) == 0 {
		log.Debugf("%s No notifiers configured, skipping alert: %s", logcolors.LogNotifier, subject)
		return
	}

	log.Infof("%s Sending alert: %s", logcolors.LogNotifier, subject)

	sent := 0
	for _, n := range h.notifiers {
		if err := n.Send(subject, message); err != nil {
			log.Errorf("%s Failed to send alert: %v", logcolors.LogNotifier, err)
			continue
		}
		sent++
	}

	if sent > 0 {
		log.Infof("%s Alert sent via %d/%d notifiers", logcolors.LogNotifier, sent, len(h.notifiers))
	}
}

// ResetCooldown lets the next event of eventType alert immediately.
func (h *AlertHandler) ResetCooldown(eventType EventType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.cooldowns, eventType)
}

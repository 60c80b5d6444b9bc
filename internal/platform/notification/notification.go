// Package notification delivers fire-and-forget mortuary events (a case is
// ready for pickup, a correction is pending, a tray was force-released) to
// whoever listens. Delivery is never guaranteed and no caller waits on it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Category names the kind of event.
type Category string

const (
	CaseRegistered       Category = "case.registered"
	CustodyTransferred   Category = "custody.transferred"
	VerificationRejected Category = "verification.rejected"
	CorrectionResolved   Category = "correction.resolved"
	TrayAssigned         Category = "tray.assigned"
	TrayManualRelease    Category = "tray.manual_release"
	ReleaseBlocked       Category = "release.blocked"
	CaseReleased         Category = "case.released"
)

// Event is one broadcast. CaseID is empty for events not tied to a case.
type Event struct {
	Category   Category          `json:"category"`
	Message    string            `json:"message"`
	CaseID     string            `json:"case_id,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// TemplateEngine renders event messages with {{key}} placeholders. The
// message set is fixed at construction.
type TemplateEngine struct {
	templates map[Category]string
}

// NewTemplateEngine creates a TemplateEngine with the built-in messages.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: map[Category]string{
			CaseRegistered:       "Case {{case_code}} from {{service}} is ready for pickup",
			CustodyTransferred:   "Case {{case_code}} handed over to {{to_user}} ({{direction}})",
			VerificationRejected: "Case {{case_code}} failed wristband verification: {{reason}}",
			CorrectionResolved:   "Correction for case {{case_code}} resolved by {{resolved_by}}",
			TrayAssigned:         "Case {{case_code}} stored in tray {{tray_code}}",
			TrayManualRelease:    "Tray {{tray_code}} manually released: {{reason}}",
			ReleaseBlocked:       "Release of case {{case_code}} blocked by {{holds}}",
			CaseReleased:         "Case {{case_code}} released",
		},
	}
}

// Render performs {{key}} replacement. Keys absent from data are left as-is.
func (e *TemplateEngine) Render(category Category, data map[string]string) (string, error) {
	msg, ok := e.templates[category]
	if !ok {
		return "", fmt.Errorf("template %q not found", category)
	}
	for k, v := range data {
		msg = strings.ReplaceAll(msg, "{{"+k+"}}", v)
	}
	return msg, nil
}

// Event renders the category's message and builds the event. An unknown
// category still yields an event whose message is the category name.
func (e *TemplateEngine) Event(category Category, caseID string, data map[string]string) Event {
	msg, err := e.Render(category, data)
	if err != nil {
		msg = string(category)
	}
	return Event{
		Category:   category,
		Message:    msg,
		CaseID:     caseID,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// Publishers
// ---------------------------------------------------------------------------

// LogPublisher writes events to the structured log. It is the publisher of
// record when no broker is configured.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "notification").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.logger.Info().
		Str("category", string(ev.Category)).
		Str("case_id", ev.CaseID).
		Time("occurred_at", ev.OccurredAt).
		Msg(ev.Message)
	return nil
}

// Multi fans an event out to every publisher. All publishers are attempted;
// the joined error reports the ones that failed.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

package notify

import (
	"context"
	"errors"
	"fmt"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/internal/domain/repository"
)

var severityRank = map[models.AlertSeverity]int{
	models.SeverityInfo:     0,
	models.SeverityWarning:  1,
	models.SeverityCritical: 2,
}

// AtLeast reports whether s is as severe as min.
func AtLeast(s, min models.AlertSeverity) bool { return severityRank[s] >= severityRank[min] }

type sink struct {
	name     string
	notifier repository.Notifier
	min      models.AlertSeverity
}

// Fanout delivers each alert to every sink whose minimum severity it meets.
// A failing sink does not stop delivery to the others.
type Fanout struct {
	sinks []sink
}

func NewFanout() *Fanout { return &Fanout{} }

// Add registers a sink. A nil notifier is ignored so optional sinks can be
// wired unconditionally.
func (f *Fanout) Add(name string, n repository.Notifier, min models.AlertSeverity) *Fanout {
	if n == nil {
		return f
	}
	if min == "" {
		min = models.SeverityInfo
	}
	f.sinks = append(f.sinks, sink{name: name, notifier: n, min: min})
	return f
}

func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) Notify(ctx context.Context, alert models.Alert) error {
	var errs []error
	for _, s := range f.sinks {
		if !AtLeast(alert.Severity, s.min) {
			continue
		}
		if err := s.notifier.Notify(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Format renders an alert as a single chat line.
func Format(a models.Alert) string {
	icon := "ℹ️"
	switch a.Severity {
	case models.SeverityWarning:
		icon = "⚠️"
	case models.SeverityCritical:
		icon = "🚨"
	}
	return fmt.Sprintf("%s [%s] %s", icon, a.Severity, a.Message)
}

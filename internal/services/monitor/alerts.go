package monitor

import (
	"context"
	"sort"
	"strings"

	"FuturesPilot/internal/domain/models"
	"FuturesPilot/pkg/logger"
)

// SendAlert dispatches an alert unless the same id was sent within the
// cooldown. It reports whether the alert was dispatched.
func (s *Supervisor) SendAlert(ctx context.Context, id, message string, severity models.AlertSeverity) bool {
	now := s.now()

	s.alertsMu.Lock()
	if prev, ok := s.alerts[id]; ok && now.Sub(prev.LastSentAt) < s.cfg.AlertCooldown {
		s.alertsMu.Unlock()
		return false
	}
	alert := models.Alert{ID: id, Message: message, Severity: severity, LastSentAt: now}
	s.alerts[id] = alert
	s.alertsMu.Unlock()

	s.log.Warn("ALERT", logger.String("id", id), logger.String("severity", string(severity)), logger.String("message", message))
	s.metrics.RecordAlert(alertKind(id), severity)
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, alert); err != nil {
			s.log.Error("alert dispatch failed", logger.String("id", id), logger.Error(err))
			s.metrics.RecordError("alert_dispatch")
		}
	}
	return true
}

// ActiveAlerts returns alerts still inside their cooldown, newest first.
func (s *Supervisor) ActiveAlerts() []models.Alert {
	s.alertsMu.Lock()
	defer s.alertsMu.Unlock()
	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSentAt.After(out[j].LastSentAt) })
	return out
}

func (s *Supervisor) sweepAlerts(context.Context) error {
	now := s.now()
	s.alertsMu.Lock()
	defer s.alertsMu.Unlock()
	for id, a := range s.alerts {
		if now.Sub(a.LastSentAt) > s.cfg.AlertCooldown {
			delete(s.alerts, id)
		}
	}
	return nil
}

// alertKind strips the symbol or event suffix so metric label cardinality stays bounded.
func alertKind(id string) string {
	for _, prefix := range []string{"large_position", "large_loss", "liquidation_risk", "high_funding", "negative_funding", "strategy_switch"} {
		if strings.HasPrefix(id, prefix+"_") {
			return prefix
		}
	}
	return id
}

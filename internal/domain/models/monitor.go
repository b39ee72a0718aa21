package models

import "time"

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "INFO"
	SeverityWarning  AlertSeverity = "WARNING"
	SeverityCritical AlertSeverity = "CRITICAL"
)

type Alert struct {
	ID         string        `json:"id"`
	Message    string        `json:"message"`
	Severity   AlertSeverity `json:"severity"`
	LastSentAt time.Time     `json:"last_sent_at"`
}

// PerformanceSnapshot is one sample of the rolling performance buffer.
type PerformanceSnapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalPnL       float64   `json:"total_pnl"`
	DailyPnL       float64   `json:"daily_pnl"`
	PeriodPnL      float64   `json:"period_pnl"`
	WinRate        float64   `json:"win_rate"`
	PositionsCount int       `json:"positions_count"`
	TotalNotional  float64   `json:"total_notional"`
	MarginUsage    float64   `json:"margin_usage"`
	Leverage       float64   `json:"leverage"`
}

type PerformanceSummary struct {
	TotalPnL    float64   `json:"total_pnl"`
	DailyPnL    float64   `json:"daily_pnl"`
	HourlyPnL   float64   `json:"hourly_pnl"`
	WinRate     float64   `json:"win_rate"`
	AvgLeverage float64   `json:"avg_leverage"`
	MaxDrawdown float64   `json:"max_drawdown"`
	Samples     int       `json:"samples"`
	LastUpdate  time.Time `json:"last_update"`
}

type MonitorStatus struct {
	IsMonitoring       bool      `json:"is_monitoring"`
	ActiveAlerts       int       `json:"active_alerts"`
	PositionsMonitored int       `json:"positions_monitored"`
	HistorySize        int       `json:"history_size"`
	LastUpdate         time.Time `json:"last_update"`
}

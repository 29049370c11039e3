package monitor

import (
	"fmt"
	"strings"

	"github.com/alejandrodnm/posmon/internal/domain"
)

var statusIcons = map[domain.PositionStatus]string{
	domain.StatusEntryHit:  "🟢",
	domain.StatusTargetHit: "🎯",
	domain.StatusSLHit:     "🛑",
	domain.StatusExpired:   "⌛",
}

// formatTransition construye el mensaje de chat de una transición.
func formatTransition(tr domain.StatusTransition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s → %s @ %s\n", statusIcons[tr.To], tr.Ticker, tr.From, tr.To, formatPrice(tr.Price))
	fmt.Fprintf(&b, "Reason: %s", tr.Reason)
	if tr.ProfitLossPct != nil {
		fmt.Fprintf(&b, "\nP&L: %+.2f%%", *tr.ProfitLossPct)
	}
	return b.String()
}

// formatAnomaly construye el mensaje de chat de una anomalía.
func formatAnomaly(ev domain.AnomalyEvent) string {
	msg := fmt.Sprintf("⚠️ %s anomaly\n%s", ev.Kind, ev.Message)
	if ev.Narrative != "" {
		msg += "\n" + ev.Narrative
	}
	return msg
}

func formatPrice(p float64) string {
	if p == float64(int64(p)) {
		return fmt.Sprintf("%d", int64(p))
	}
	return fmt.Sprintf("%.2f", p)
}

package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/ports"
)

// Console implementa ports.NotificationSink escribiendo a stdout.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

var _ ports.NotificationSink = (*Console)(nil)

// NewConsole crea un notificador que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, now: time.Now}
}

// Notify imprime el mensaje con timestamp. Los mensajes multilínea se indentan.
func (c *Console) Notify(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "[%s] %s\n", c.now().Format("15:04:05"), indent(message))
	return err
}

// PrintPositions imprime la lista de posiciones trackeadas como tabla.
func (c *Console) PrintPositions(positions []domain.TrackedPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(positions) == 0 {
		fmt.Fprintln(c.out, "No open positions tracked")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Ticker", "Status", "Kind", "Entry", "Price", "Stop", "Target", "Days", "PnL", "→Target", "→Stop", "R:R")
	for i, p := range positions {
		table.Append(
			fmt.Sprintf("%d", i+1),
			p.Ticker,
			string(p.Status),
			string(p.OrderKind),
			price(p.EntryPrice),
			price(p.CurrentPrice),
			price(p.StopLoss),
			price(p.TargetPrice),
			fmt.Sprintf("%d/%d", p.DaysActive, p.MaxHoldDays),
			pnlLabel(p.UnrealizedPnLPct),
			fmt.Sprintf("%+.2f%%", p.DistanceToTargetPct),
			fmt.Sprintf("%+.2f%%", p.DistanceToStopPct),
			fmt.Sprintf("%.2f", p.RiskReward),
		)
	}
	table.Render()

	fmt.Fprintln(c.out, "  PnL = no realizado (solo entry_hit) | →Target/→Stop = movimiento necesario desde el precio actual")
}

func price(p float64) string {
	if p == float64(int64(p)) {
		return fmt.Sprintf("%d", int64(p))
	}
	return fmt.Sprintf("%.2f", p)
}

func pnlLabel(pnl *float64) string {
	if pnl == nil {
		return "-"
	}
	return fmt.Sprintf("%+.2f%%", *pnl)
}

func indent(msg string) string {
	out := make([]byte, 0, len(msg))
	for i := 0; i < len(msg); i++ {
		out = append(out, msg[i])
		if msg[i] == '\n' {
			out = append(out, "           "...)
		}
	}
	return string(out)
}

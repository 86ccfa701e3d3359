// Package notify implementa ports.Notifier sobre la consola.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo a un io.Writer.
type Console struct {
	out     io.Writer
	paper   bool
	verbose bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(paper, verbose bool) *Console {
	return &Console{out: os.Stdout, paper: paper, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w, verbose: true}
}

// Notify imprime el evento en una línea. Nunca devuelve error: la consola
// no puede frenar el loop de evaluación.
func (c *Console) Notify(_ context.Context, event domain.Event) error {
	if !c.verbose && quiet(event.Kind) {
		return nil
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]%s %s %s",
		at.Format("15:04:05"), c.modeTag(), eventIcon(event.Kind), event.Kind)
	if event.ConditionID != "" {
		fmt.Fprintf(&sb, " mkt=%s", shortID(event.ConditionID))
	}
	if event.Message != "" {
		fmt.Fprintf(&sb, " — %s", event.Message)
	}

	fmt.Fprintln(c.out, sb.String())
	return nil
}

// NotifyPositions imprime la tabla del portfolio y el resumen de riesgo.
func (c *Console) NotifyPositions(_ context.Context, positions []domain.Position, state domain.RiskState) error {
	now := time.Now().Format("15:04:05")

	open := 0
	for _, pos := range positions {
		if pos.Status != domain.PositionClosed {
			open++
		}
	}

	fmt.Fprintf(c.out, "\n[%s]%s PORTFOLIO — %d open | exposure $%.2f | balance $%.2f | equity $%.2f\n",
		now, c.modeTag(), open, state.ExposureUSD, state.Balance, state.Equity())
	fmt.Fprintf(c.out, "  day %s | pnl $%.2f | trades %d | phase %s%s | drawdown %.1f%%\n",
		state.TradingDay.Format("2006-01-02"), state.DailyPnL, state.TradesToday,
		state.Phase, cooldownLabel(state), state.Drawdown()*100)

	if open == 0 {
		fmt.Fprintln(c.out, "  (sin posiciones abiertas)")
		return nil
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Side", "Shares", "Entry", "Cost$", "Stop", "TP", "Status", "Age")

	for _, pos := range positions {
		if pos.Status == domain.PositionClosed {
			continue
		}
		table.Append(
			marketLabel(pos),
			string(pos.Side),
			fmt.Sprintf("%.2f", pos.Shares),
			fmt.Sprintf("%.3f", pos.EntryPrice),
			fmt.Sprintf("$%.2f", pos.CostUSD),
			priceLabel(pos.StopLoss),
			priceLabel(pos.TakeProfit),
			string(pos.Status),
			ageLabel(pos.HoldingTime(time.Now())),
		)
	}
	table.Render()

	if len(state.CategoryExposure) > 0 {
		var parts []string
		for cat, usd := range state.CategoryExposure {
			if usd <= 0 {
				continue
			}
			parts = append(parts, fmt.Sprintf("%s $%.0f", cat, usd))
		}
		if len(parts) > 0 {
			fmt.Fprintf(c.out, "  exposure by category: %s\n", strings.Join(parts, " | "))
		}
	}
	fmt.Fprintln(c.out)
	return nil
}

// PrintDailySummary imprime el resumen de cierre de día.
func (c *Console) PrintDailySummary(summary domain.DailySummary) {
	fmt.Fprintf(c.out, "\n=== DAILY SUMMARY %s%s ===\n",
		summary.Date.Format("2006-01-02"), c.modeTag())
	fmt.Fprintf(c.out, "  trades: %d admitted, %d reduced, %d rejected\n",
		summary.TradesAdmitted, summary.TradesReduced, summary.TradesRejected)
	fmt.Fprintf(c.out, "  orders: %d placed, %d filled, %d failed\n",
		summary.OrdersPlaced, summary.OrdersFilled, summary.OrdersFailed)
	fmt.Fprintf(c.out, "  realized pnl: $%.2f | end balance: $%.2f | peak equity: $%.2f\n",
		summary.RealizedPnL, summary.EndBalance, summary.PeakEquity)
	fmt.Fprintf(c.out, "  max drawdown: %.1f%% | end phase: %s | %d open, $%.2f deployed\n\n",
		summary.MaxDrawdown*100, summary.EndPhase, summary.OpenPositions, summary.ExposureUSD)
}

// --- helpers ---

func (c *Console) modeTag() string {
	if c.paper {
		return "[PAPER]"
	}
	return ""
}

// quiet marca los kinds que solo se imprimen en modo verbose.
func quiet(kind domain.EventKind) bool {
	switch kind {
	case domain.EventSignalGenerated, domain.EventTradeAdmitted:
		return true
	}
	return false
}

func eventIcon(kind domain.EventKind) string {
	switch kind {
	case domain.EventOrderFilled, domain.EventPositionClosed:
		return "OK"
	case domain.EventTradeReduced, domain.EventDailyLimitWarning, domain.EventRebalanceAdvice:
		return "!"
	case domain.EventTradeRejected, domain.EventOrderFailed, domain.EventOrderCancelled:
		return "x"
	case domain.EventDailyLimitBreach, domain.EventEmergencyAdvice, domain.EventInvariantBreach:
		return "!!"
	}
	return "-"
}

func cooldownLabel(state domain.RiskState) string {
	if state.Phase != domain.PhaseFrozen || state.CooldownUntil.IsZero() {
		return ""
	}
	return fmt.Sprintf(" (until %s)", state.CooldownUntil.Format("15:04"))
}

func marketLabel(pos domain.Position) string {
	if pos.Question != "" {
		return truncate(pos.Question, 38)
	}
	return shortID(pos.ConditionID)
}

func shortID(id string) string {
	if len(id) > 14 {
		return id[:12] + "..."
	}
	return id
}

func priceLabel(p float64) string {
	if p <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.3f", p)
}

func ageLabel(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < 48*time.Hour {
		return fmt.Sprintf("%.0fh", d.Hours())
	}
	return fmt.Sprintf("%.0fd", d.Hours()/24)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Package repl is the interactive terminal front end over one monitored
// instrument.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"tick-oracle/internal/domain"
	"tick-oracle/internal/monitor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Width(22)

	upStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	downStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	holdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	boldStyle = lipgloss.NewStyle().Bold(true)
	cmdStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
)

const historyRows = 10

type REPL struct {
	registry *monitor.Registry
	current  *monitor.Monitor
	in       io.Reader
	out      io.Writer
}

// New starts on the first registered symbol.
func New(registry *monitor.Registry, in io.Reader, out io.Writer) *REPL {
	r := &REPL{registry: registry, in: in, out: out}
	if all := registry.All(); len(all) > 0 {
		r.current = all[0]
	}
	return r
}

// Run reads commands until quit, EOF or ctx cancellation.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, titleStyle.Render("tick-oracle")+" "+dimStyle.Render("price forecasting monitor"))
	fmt.Fprintln(r.out, dimStyle.Render("Type 'help' for commands, 'quit' to exit"))

	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		errs <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(r.out, r.prompt())
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return <-errs
			}
			output, quit := r.Execute(line)
			if output != "" {
				fmt.Fprintln(r.out, output)
			}
			if quit {
				fmt.Fprintln(r.out, dimStyle.Render("Goodbye!"))
				return nil
			}
		}
	}
}

func (r *REPL) prompt() string {
	if r.current == nil {
		return "> "
	}
	return strings.ToLower(r.current.Symbol()) + "> "
}

// Execute runs one command line and reports whether the REPL should exit.
func (r *REPL) Execute(line string) (string, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(line)))
	if len(fields) == 0 {
		return "", false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "quit", "q", "exit":
		return "", true
	case "help":
		return helpText(), false
	case "symbols":
		return r.symbols(), false
	case "use":
		return r.use(args), false
	}

	if r.current == nil {
		return holdStyle.Render("No symbols configured"), false
	}
	switch cmd {
	case "status", "s":
		return r.status(), false
	case "forecast", "f":
		return r.forecast(args), false
	case "signal", "sig":
		return r.signal(), false
	case "stats":
		return r.stats(), false
	case "metrics", "m":
		return r.metrics(), false
	case "history", "h":
		return r.history(), false
	}
	return downStyle.Render("Unknown command: "+cmd) + "\n" + dimStyle.Render("Type 'help' for available commands"), false
}

func (r *REPL) symbols() string {
	var b strings.Builder
	for _, m := range r.registry.All() {
		marker := "  "
		if m == r.current {
			marker = "* "
		}
		inst := m.Instrument()
		fmt.Fprintf(&b, "%s%s %s\n", marker, inst.Symbol, dimStyle.Render(string(inst.Source)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *REPL) use(args []string) string {
	if len(args) == 0 {
		return holdStyle.Render("Usage: use SYMBOL")
	}
	m, err := r.registry.Get(args[0])
	if err != nil {
		return downStyle.Render(err.Error())
	}
	r.current = m
	return "Now watching " + boldStyle.Render(m.Symbol())
}

func changeStyle(change float64) (lipgloss.Style, string, string) {
	if change >= 0 {
		return upStyle, "↗", "+"
	}
	return downStyle, "↘", ""
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func (r *REPL) status() string {
	last, ok := r.current.Last()
	if !ok {
		return holdStyle.Render("Waiting for data...")
	}
	style, arrow, sign := changeStyle(last.Change)
	return fmt.Sprintf("%s %s %s",
		boldStyle.Render(fmt.Sprintf("%s $%.2f", arrow, last.Price)),
		style.Render(fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, last.Change, sign, last.ChangePct)),
		dimStyle.Render("| "+last.Timestamp.Local().Format("15:04:05")),
	)
}

func (r *REPL) forecast(args []string) string {
	horizons := r.current.Horizons()
	horizon := 5 * time.Minute
	if len(args) > 0 {
		minutes, err := strconv.Atoi(args[0])
		if err != nil {
			return downStyle.Render("Invalid horizon. Use " + horizonList(horizons))
		}
		horizon = time.Duration(minutes) * time.Minute
	}
	valid := false
	for _, h := range horizons {
		if h == horizon {
			valid = true
		}
	}
	if !valid {
		return downStyle.Render("Invalid horizon. Use " + horizonList(horizons))
	}

	f, ok := r.current.LatestForecast(horizon)
	if !ok {
		return holdStyle.Render(fmt.Sprintf("No forecast yet (%d samples collected)", len(r.current.History(0))))
	}
	return formatForecast(f)
}

func horizonList(hs []time.Duration) string {
	parts := make([]string, len(hs))
	for i, h := range hs {
		parts[i] = strconv.FormatFloat(h.Minutes(), 'f', -1, 64)
	}
	return strings.Join(parts, ", ")
}

func formatForecast(f domain.Forecast) string {
	style, arrow, sign := changeStyle(f.PriceChange)
	lines := []string{
		row("Horizon:", boldStyle.Render(fmt.Sprintf("%s min", strconv.FormatFloat(f.HorizonMinutes(), 'f', -1, 64)))),
		row("Current:", fmt.Sprintf("$%.2f", f.CurrentPrice)),
		row("Predicted:", boldStyle.Render(fmt.Sprintf("%s $%.2f", arrow, f.Prediction))),
		row("Change:", style.Render(fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, f.PriceChange, sign, f.PriceChangePct))),
		row("Velocity:", fmt.Sprintf("%.4f $/step", f.Velocity)),
		row("IC 95%:", fmt.Sprintf("$%.2f - $%.2f", f.LowerBound, f.UpperBound)),
		row("Trend:", boldStyle.Render(strings.ToUpper(string(f.Trend)))),
		row("Confidence:", string(f.Confidence)),
		row("Model:", dimStyle.Render(f.Method)),
	}
	return strings.Join(lines, "\n")
}

func (r *REPL) signal() string {
	s, ok := r.current.LatestSignal()
	if !ok {
		return holdStyle.Render("No signal yet")
	}
	style := holdStyle
	switch s.Action {
	case domain.ActionBuy:
		style = upStyle
	case domain.ActionSell:
		style = downStyle
	}
	const barLength = 20
	filled := s.Strength * barLength / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barLength-filled)
	return fmt.Sprintf("%s %s %d/100\n%s",
		style.Bold(true).Render(string(s.Action)), dimStyle.Render(bar), s.Strength, dimStyle.Render(s.Reason))
}

func (r *REPL) stats() string {
	st, ok := r.current.Stats()
	if !ok {
		return holdStyle.Render("No data available")
	}
	return strings.Join([]string{
		row("Samples:", strconv.Itoa(st.Samples)),
		row("Max:", upStyle.Render(fmt.Sprintf("$%.2f", st.Max))),
		row("Min:", downStyle.Render(fmt.Sprintf("$%.2f", st.Min))),
		row("Avg:", fmt.Sprintf("$%.2f", st.Mean)),
		row("Range:", fmt.Sprintf("$%.2f", st.Range)),
	}, "\n")
}

func (r *REPL) metrics() string {
	acc := r.current.Accuracy()
	if acc.Metrics == nil {
		return holdStyle.Render(fmt.Sprintf("No validated predictions yet (%d pending)", r.current.PendingPredictions()))
	}
	v := acc.Metrics.Rounded()
	return strings.Join([]string{
		row("Total predictions:", strconv.Itoa(acc.TotalPredictions)),
		row("Validated:", strconv.Itoa(acc.ValidatedPredictions)),
		row("Directional accuracy:", boldStyle.Render(fmt.Sprintf("%.1f%%", v.DirectionalAccuracy))),
		row("MAPE:", fmt.Sprintf("%.2f%%", v.MAPE)),
		row("MAE:", fmt.Sprintf("$%.3f", v.MAE)),
		row("IC 95% coverage:", fmt.Sprintf("%.1f%%", v.IntervalCoverage)),
		row("Effectiveness:", fmt.Sprintf("%.1f/100", v.EffectivenessIndex)),
		row("Evaluation:", boldStyle.Render(acc.Summary)),
	}, "\n")
}

func (r *REPL) history() string {
	samples := r.current.History(historyRows)
	if len(samples) == 0 {
		return holdStyle.Render("No data available")
	}
	lines := []string{boldStyle.Render(fmt.Sprintf("%-10s %12s %20s", "Time", "Price", "Change"))}
	for _, s := range samples {
		style, _, sign := changeStyle(s.Change)
		lines = append(lines, fmt.Sprintf("%-10s %12s %s",
			dimStyle.Render(s.Timestamp.Local().Format("15:04:05")),
			fmt.Sprintf("$%.2f", s.Price),
			style.Render(fmt.Sprintf("%20s", fmt.Sprintf("%s%.2f (%s%.2f%%)", sign, s.Change, sign, s.ChangePct))),
		))
	}
	return strings.Join(lines, "\n")
}

func helpText() string {
	entries := [][2]string{
		{"status, s", "Current price"},
		{"forecast [1|5|10]", "Price forecast (default: 5 min)"},
		{"signal, sig", "Trading signal (BUY/SELL/HOLD)"},
		{"stats", "Statistics (max, min, avg)"},
		{"metrics, m", "Model accuracy metrics"},
		{"history, h", "Recent price history"},
		{"symbols", "List tracked symbols"},
		{"use SYMBOL", "Switch the watched symbol"},
		{"help", "Show this help"},
		{"quit, q", "Exit"},
	}
	lines := []string{boldStyle.Render("Available commands:")}
	for _, e := range entries {
		lines = append(lines, "  "+cmdStyle.Width(20).Render(e[0])+e[1])
	}
	return strings.Join(lines, "\n")
}

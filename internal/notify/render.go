package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/smallbiznis/cardreport/internal/report/domain"
)

// Renderer turns payloads into human-readable messages.
type Renderer struct {
	// Currency prefixes amounts, e.g. "¥" or "JPY ".
	Currency string
	printer  *message.Printer
}

func NewRenderer(currency string) *Renderer {
	return &Renderer{
		Currency: currency,
		printer:  message.NewPrinter(language.Japanese),
	}
}

func (r *Renderer) Amount(v int64) string {
	return r.Currency + r.printer.Sprintf("%d", v)
}

func (r *Renderer) title(p domain.Payload) string {
	name := map[domain.Granularity]string{
		domain.GranularityDaily:   "Daily",
		domain.GranularityWeekly:  "Weekly",
		domain.GranularityMonthly: "Monthly",
	}[p.Granularity]
	if name == "" {
		name = string(p.Granularity)
	}
	if p.Kind == domain.PayloadAlert {
		return fmt.Sprintf("%s spending alert (level %d)", name, p.AlertLevel)
	}
	return fmt.Sprintf("%s card usage report", name)
}

func (r *Renderer) period(p domain.Payload) string {
	if p.Label != "" {
		return p.Label
	}
	return p.Path
}

// Subject is the one-line heading of p.
func (r *Renderer) Subject(p domain.Payload) string {
	return fmt.Sprintf("%s: %s", r.title(p), r.period(p))
}

// Text renders p as a short plain-text message.
func (r *Renderer) Text(p domain.Payload) string {
	var b strings.Builder
	b.WriteString(r.Subject(p))
	b.WriteString("\n")
	if p.Kind == domain.PayloadAlert {
		fmt.Fprintf(&b, "Total %s reached the threshold of %s (%d uses).",
			r.Amount(p.TotalAmount), r.Amount(p.Threshold), p.TotalCount)
		return b.String()
	}
	fmt.Fprintf(&b, "Total %s over %d uses.", r.Amount(p.TotalAmount), p.TotalCount)
	return b.String()
}

// Template returns the email template name and data for p.
func (r *Renderer) Template(p domain.Payload) (string, map[string]interface{}) {
	data := map[string]interface{}{
		"subject": r.Subject(p),
		"title":   r.title(p),
		"period":  r.period(p),
		"amount":  r.Amount(p.TotalAmount),
		"count":   p.TotalCount,
	}
	if p.Kind == domain.PayloadAlert {
		data["level"] = p.AlertLevel
		data["threshold"] = r.Amount(p.Threshold)
		return "report_alert", data
	}
	return "report_summary", data
}

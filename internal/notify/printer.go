package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"twodo/internal/alarm"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	dueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// Printer writes styled reminder lines to a terminal.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Name() string { return "printer" }

func (p *Printer) Deliver(_ context.Context, r alarm.Reminder) error {
	var b strings.Builder
	b.WriteString(bannerStyle.Render(fmt.Sprintf("Reminder %s", r.At.Format("Mon 02 Jan 15:04"))))
	b.WriteByte('\n')
	for _, t := range r.Tasks {
		b.WriteString("  ")
		b.WriteString(nameStyle.Render(t.Name))
		if t.Deadline != nil {
			b.WriteString("  ")
			b.WriteString(dueStyle.Render("due " + t.Deadline.End.Format("2006-01-02 15:04")))
		}
		if len(t.Tags) > 0 {
			b.WriteString(dueStyle.Render("  #" + strings.Join(t.Tags, " #")))
		}
		b.WriteByte('\n')
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := io.WriteString(p.w, b.String())
	return err
}

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/vango-go/vai-agents/pkg/core/types"
	"github.com/vango-go/vai-agents/pkg/eventlog"
	"github.com/vango-go/vai-agents/pkg/gateway/live/protocol"
	"github.com/vango-go/vai-agents/pkg/transcript"
)

type chatTheme struct {
	header     lipgloss.Style
	user       lipgloss.Style
	assistant  lipgloss.Style
	breadcrumb lipgloss.Style
	agent      lipgloss.Style
	warning    lipgloss.Style
	errorLine  lipgloss.Style
	muted      lipgloss.Style
}

func newChatTheme() chatTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffb86c")
	muted := lipgloss.Color("#9ca3d8")

	return chatTheme{
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		user:       lipgloss.NewStyle().Foreground(blue).Bold(true),
		assistant:  lipgloss.NewStyle().Foreground(mint).Bold(true),
		breadcrumb: lipgloss.NewStyle().Foreground(muted).Italic(true),
		agent:      lipgloss.NewStyle().Foreground(pink).Bold(true),
		warning:    lipgloss.NewStyle().Foreground(amber),
		errorLine:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		muted:      lipgloss.NewStyle().Foreground(muted),
	}
}

// chatRenderer prints live frames as transcript lines. Entries arrive many
// times while streaming; each is printed once, when it is final.
type chatRenderer struct {
	out        io.Writer
	theme      chatTheme
	plain      bool
	width      int
	showEvents bool

	printed   map[string]bool
	annotated map[string]bool
}

func newChatRenderer(out io.Writer, noColor, showEvents bool) *chatRenderer {
	r := &chatRenderer{
		out:        out,
		theme:      newChatTheme(),
		plain:      true,
		showEvents: showEvents,
		printed:    make(map[string]bool),
		annotated:  make(map[string]bool),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.plain = noColor
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			r.width = w
		}
	}
	return r
}

func (r *chatRenderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

func (r *chatRenderer) Header(ack protocol.ServerHelloAck) {
	lines := []string{
		fmt.Sprintf("scenario %s  session %s", ack.Scenario, ack.SessionID),
		fmt.Sprintf("agent %s  (agents: %s)", ack.Agent, strings.Join(ack.Agents, ", ")),
		"type a message; /interrupt, /quit",
	}
	body := strings.Join(lines, "\n")
	if r.plain {
		fmt.Fprintln(r.out, body)
		return
	}
	h := r.theme.header
	if r.width > 4 {
		h = h.Width(r.width - 2)
	}
	fmt.Fprintln(r.out, h.Render(body))
}

func (r *chatRenderer) Transcript(e transcript.Entry) {
	if e.Hidden {
		return
	}
	switch e.Kind {
	case transcript.KindBreadcrumb:
		if r.printed[e.ID] {
			return
		}
		r.printed[e.ID] = true
		fmt.Fprintln(r.out, r.style(r.theme.breadcrumb, "  · "+e.Title))
	case transcript.KindMessage:
		if e.Status == transcript.StatusDone && !r.printed[e.ID] {
			r.printed[e.ID] = true
			r.message(e)
		}
		if g := e.Guardrail; g != nil && g.Tripped && !r.annotated[e.ID] {
			r.annotated[e.ID] = true
			fmt.Fprintln(r.out, r.style(r.theme.warning, fmt.Sprintf("  [guardrail %s] %s", g.Category, g.Rationale)))
		}
	}
}

func (r *chatRenderer) message(e transcript.Entry) {
	label, st := "you", r.theme.user
	if e.Role == types.RoleAssistant {
		label, st = "assistant", r.theme.assistant
	}
	text := e.Text
	if e.Suppressed() {
		text = "(message withheld)"
	}
	fmt.Fprintf(r.out, "%s %s\n", r.style(st, label+":"), text)
}

func (r *chatRenderer) Agent(name string) {
	fmt.Fprintln(r.out, r.style(r.theme.agent, "→ now talking to "+name))
}

func (r *chatRenderer) Event(ev eventlog.Event) {
	if !r.showEvents {
		return
	}
	fmt.Fprintln(r.out, r.style(r.theme.muted, fmt.Sprintf("  %s %s", ev.Direction, ev.Name)))
}

func (r *chatRenderer) Warning(code, msg string) {
	fmt.Fprintln(r.out, r.style(r.theme.warning, fmt.Sprintf("warning %s: %s", code, msg)))
}

func (r *chatRenderer) Error(code, msg string) {
	fmt.Fprintln(r.out, r.style(r.theme.errorLine, fmt.Sprintf("error %s: %s", code, msg)))
}

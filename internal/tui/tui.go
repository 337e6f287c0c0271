// Package tui is the interactive agent console: live transcript entry,
// task review and approval from the terminal.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/evanwires/sidekick/internal/engine"
	"github.com/evanwires/sidekick/internal/model"
)

// Engine is the slice of the orchestration engine the console needs.
type Engine interface {
	SessionID() string
	AppendUtterance(speaker model.Speaker, text string, seq uint64) (model.Utterance, error)
	RequestAssistance(ctx context.Context) (engine.IngestResult, error)
	Approve(id string) error
	Reject(id string) error
	Retry(ctx context.Context, id string) error
	Snapshot() model.SessionSnapshot
	Reset() error
	Subscribe() (<-chan engine.Event, func())
}

// Run starts the console and blocks until the user quits.
func Run(eng Engine) error {
	m, cleanup := newModel(eng)
	defer cleanup()
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	statusStyle   = lipgloss.NewStyle().Faint(true)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Faint(true)
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type eventMsg engine.Event

type eventsClosedMsg struct{}

type assistResultMsg struct {
	res engine.IngestResult
	err error
}

type opResultMsg struct {
	op  string
	id  string
	err error
}

type Model struct {
	eng    Engine
	events <-chan engine.Event

	transcript viewport.Model
	input      textinput.Model
	spin       spinner.Model

	snapshot model.SessionSnapshot
	speaker  model.Speaker
	selected int
	busy     bool
	status   string
	width    int
	height   int
	detail   bool
}

func newModel(eng Engine) (Model, func()) {
	events, cancel := eng.Subscribe()

	ti := textinput.New()
	ti.Placeholder = "type an utterance, enter to append"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 12)

	m := Model{
		eng:        eng,
		events:     events,
		transcript: vp,
		input:      ti,
		spin:       sp,
		snapshot:   eng.Snapshot(),
		speaker:    model.SpeakerCustomer,
		status:     "session " + eng.SessionID(),
	}
	return m, cancel
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitEvent())
}

func (m Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.transcript.Width = msg.Width - 4
		m.transcript.Height = max(6, msg.Height/3)
		return m, nil

	case eventMsg:
		m.snapshot = m.eng.Snapshot()
		m.clampSelection()
		m.transcript.SetContent(renderTranscript(m.snapshot.Utterances))
		m.transcript.GotoBottom()
		return m, m.waitEvent()

	case eventsClosedMsg:
		return m, tea.Quit

	case assistResultMsg:
		m.busy = false
		if msg.err != nil {
			m.status = errorStyle.Render("assist failed: " + msg.err.Error())
		} else {
			m.status = fmt.Sprintf("assist: %d created, %d duplicates, %d rejected",
				msg.res.Created, msg.res.Duplicates, msg.res.Rejected)
		}
		m.snapshot = m.eng.Snapshot()
		m.clampSelection()
		return m, nil

	case opResultMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(msg.op + " " + msg.id + ": " + msg.err.Error())
		} else {
			m.status = msg.op + " " + msg.id
		}
		m.snapshot = m.eng.Snapshot()
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "tab":
		if m.speaker == model.SpeakerCustomer {
			m.speaker = model.SpeakerAgent
		} else {
			m.speaker = model.SpeakerCustomer
		}
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		seq := nextSeq(m.snapshot)
		if _, err := m.eng.AppendUtterance(m.speaker, text, seq); err != nil {
			m.status = errorStyle.Render("append: " + err.Error())
			return m, nil
		}
		m.snapshot = m.eng.Snapshot()
		return m, nil

	case "ctrl+a":
		if m.busy {
			return m, nil
		}
		m.busy = true
		m.status = "requesting assistance"
		eng := m.eng
		return m, tea.Batch(m.spin.Tick, func() tea.Msg {
			res, err := eng.RequestAssistance(context.Background())
			return assistResultMsg{res: res, err: err}
		})

	case "up":
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case "down":
		if m.selected < len(m.snapshot.Tasks)-1 {
			m.selected++
		}
		return m, nil

	case "ctrl+d":
		m.detail = !m.detail
		return m, nil

	case "ctrl+y":
		return m.taskOp("approve", func(id string) error { return m.eng.Approve(id) })

	case "ctrl+x":
		return m.taskOp("reject", func(id string) error { return m.eng.Reject(id) })

	case "ctrl+t":
		return m.taskOp("retry", func(id string) error {
			return m.eng.Retry(context.Background(), id)
		})

	case "ctrl+n":
		if err := m.eng.Reset(); err != nil {
			m.status = errorStyle.Render("reset: " + err.Error())
			return m, nil
		}
		m.snapshot = m.eng.Snapshot()
		m.selected = 0
		m.transcript.SetContent("")
		m.status = "new session " + m.eng.SessionID()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) taskOp(op string, fn func(id string) error) (tea.Model, tea.Cmd) {
	if len(m.snapshot.Tasks) == 0 {
		m.status = "no task selected"
		return m, nil
	}
	id := m.snapshot.Tasks[m.selected].ID
	return m, func() tea.Msg {
		return opResultMsg{op: op, id: id, err: fn(id)}
	}
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.snapshot.Tasks) {
		m.selected = max(0, len(m.snapshot.Tasks)-1)
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("sidekick"))
	b.WriteString("  ")
	b.WriteString(statusStyle.Render("session " + m.snapshot.SessionID))
	b.WriteString("\n\n")

	b.WriteString(paneStyle.Render(m.transcript.View()))
	b.WriteString("\n")

	b.WriteString(renderTasks(m.snapshot.Tasks, m.selected))
	b.WriteString("\n")

	if m.detail && len(m.snapshot.Tasks) > 0 {
		b.WriteString(renderTaskDetail(m.snapshot.Tasks[m.selected]))
		b.WriteString("\n")
	}

	prompt := string(m.speaker) + "> "
	if m.busy {
		prompt = m.spin.View() + " " + prompt
	}
	b.WriteString(prompt + m.input.View())
	b.WriteString("\n")
	b.WriteString(statusStyle.Render(m.status))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(
		"tab speaker · enter append · ctrl+a assist · ↑/↓ select · ctrl+y approve · ctrl+x reject · ctrl+t retry · ctrl+d detail · ctrl+n reset · esc quit"))
	return b.String()
}

func renderTranscript(utterances []model.Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		fmt.Fprintf(&b, "[%s] %s: %s\n", u.At.Format("15:04:05"), u.Speaker, u.Text)
	}
	return b.String()
}

func renderTasks(tasks []model.Task, selected int) string {
	if len(tasks) == 0 {
		return statusStyle.Render("no tasks yet; ctrl+a to request assistance")
	}
	var b strings.Builder
	for i, t := range tasks {
		line := fmt.Sprintf("%-14s %-18s %-16s %s", t.ID, t.State, t.Category, t.Description)
		if i == selected {
			line = selectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line)
		if i < len(tasks)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func nextSeq(snap model.SessionSnapshot) uint64 {
	if len(snap.Utterances) == 0 {
		return 1
	}
	return snap.Utterances[len(snap.Utterances)-1].Seq + 1
}

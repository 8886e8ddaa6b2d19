// Package tui is the terminal chat surface: upload a file by path, then ask
// questions and browse the chunks each answer cites.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/barekit/docinsights/pkg/citation"
	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/session"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type indexedMsg struct {
	reply session.Reply
}

type uploadMsg struct {
	path string
}

type tokenMsg struct {
	text string
}

type answerMsg struct {
	answer session.Answer
	err    error
}

// Model is the Bubble Tea model for one chat session.
type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session *session.Session

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	lines     []string
	streaming *strings.Builder
	answer    *session.AnswerStream
	indexed   <-chan session.Reply

	citations []citation.Citation
	cursor    int

	status   string
	maxBytes int64
	file     string
	ready    bool
}

// Option configures a Model.
type Option func(*Model)

// WithFile uploads path as soon as the program starts.
func WithFile(path string) Option {
	return func(m *Model) {
		m.file = path
	}
}

// WithMaxBytes sets the largest file read from disk.
func WithMaxBytes(n int64) Option {
	return func(m *Model) {
		if n > 0 {
			m.maxBytes = n
		}
	}
}

// New creates a model over s. greeting is the reply Manager.Start returned.
func New(s *session.Session, greeting session.Reply, opts ...Option) Model {
	ctx, cancel := context.WithCancel(context.Background())

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		ctx:      ctx,
		cancel:   cancel,
		session:  s,
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(0, 0),
		maxBytes: ingest.DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(&m)
	}
	for _, msg := range greeting.Messages {
		m.addBot(msg)
	}
	m.syncPrompt()
	return m
}

// Init starts the cursor blink and the initial upload, if any.
func (m Model) Init() tea.Cmd {
	if m.file == "" {
		return textinput.Blink
	}
	path := m.file
	return func() tea.Msg {
		return uploadMsg{path: path}
	}
}

// Update handles input, indexing progress and streamed answers.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		reserved := 1 + citationHeight + 3 + 1 + fh
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.refresh()
		return m, nil

	case uploadMsg:
		m.input.SetValue(msg.path)
		return m.submit()

	case indexedMsg:
		m.indexed = nil
		for _, line := range msg.reply.Messages {
			m.addBot(line)
		}
		if msg.reply.Err != nil {
			m.status = "Error: " + msg.reply.Err.Error()
		} else {
			m.status = ""
		}
		m.syncPrompt()
		m.refresh()
		return m, nil

	case tokenMsg:
		if m.streaming != nil {
			m.streaming.WriteString(msg.text)
			m.refresh()
		}
		return m, nextToken(m.answer)

	case answerMsg:
		m.streaming = nil
		m.answer = nil
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.lines = m.lines[:len(m.lines)-1]
		} else {
			m.lines[len(m.lines)-1] = botStyle.Render("Bot: ") + msg.answer.Text
			m.citations = msg.answer.Citations
			m.cursor = 0
			m.status = ""
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if m.session.State() != session.Indexing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.cancel()
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "down":
			if len(m.citations) > 0 {
				m.cursor = (m.cursor + 1) % len(m.citations)
				return m, nil
			}
		case "up":
			if len(m.citations) > 0 {
				m.cursor = (m.cursor - 1 + len(m.citations)) % len(m.citations)
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles enter according to the session state.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.answer != nil {
		return m, nil
	}

	switch m.session.State() {
	case session.AwaitingUpload:
		up, err := ingest.FromFile(text, m.maxBytes)
		if err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		reply, err := m.session.Dispatch(m.ctx, session.FileReceived{Upload: up})
		if err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.input.Reset()
		m.addUser(up.Name)
		for _, line := range reply.Messages {
			m.addBot(line)
		}
		m.indexed = reply.Indexed
		m.syncPrompt()
		m.refresh()
		return m, tea.Batch(m.spinner.Tick, waitIndexed(reply.Indexed))

	case session.Ready:
		reply, err := m.session.Dispatch(m.ctx, session.QuestionReceived{Question: text})
		if err != nil {
			m.status = "Error: " + err.Error()
			return m, nil
		}
		m.input.Reset()
		m.addUser(text)
		m.lines = append(m.lines, "")
		m.streaming = &strings.Builder{}
		m.answer = reply.Answer
		m.status = "Thinking..."
		m.refresh()
		return m, nextToken(reply.Answer)
	}
	return m, nil
}

func waitIndexed(ch <-chan session.Reply) tea.Cmd {
	return func() tea.Msg {
		return indexedMsg{reply: <-ch}
	}
}

func nextToken(a *session.AnswerStream) tea.Cmd {
	if a == nil {
		return nil
	}
	return func() tea.Msg {
		if tok, ok := <-a.Tokens; ok {
			return tokenMsg{text: tok}
		}
		ans, err := a.Wait()
		return answerMsg{answer: ans, err: err}
	}
}

func (m *Model) addUser(s string) {
	m.lines = append(m.lines, userStyle.Render("You: ")+s)
}

func (m *Model) addBot(s string) {
	m.lines = append(m.lines, botStyle.Render("Bot: ")+strings.TrimRight(s, "\n"))
}

func (m *Model) syncPrompt() {
	switch m.session.State() {
	case session.AwaitingUpload:
		m.input.Placeholder = "Path to a PDF or text file"
	case session.Ready:
		m.input.Placeholder = "Ask a question about the file"
	default:
		m.input.Placeholder = ""
	}
}

func (m *Model) refresh() {
	lines := m.lines
	if m.streaming != nil && len(lines) > 0 {
		lines = append(append([]string(nil), lines[:len(lines)-1]...), botStyle.Render("Bot: ")+m.streaming.String())
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(lines, "\n\n")))
	m.viewport.GotoBottom()
}

// View renders the transcript, the citation panel and the prompt.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := headerStyle.Render("docinsights") + "  " + statusStyle.Render(m.session.State().String())

	var prompt string
	if m.session.State() == session.Indexing {
		prompt = m.spinner.View() + " Indexing..."
	} else {
		prompt = m.input.View()
	}

	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		m.renderCitation() + "\n" +
		inputStyle.Render(prompt) + "\n" +
		statusStyle.Render(m.status)
}

func (m Model) renderCitation() string {
	if len(m.citations) == 0 {
		return citationStyle.Render("No citations yet.")
	}
	c := m.citations[m.cursor]
	title := fmt.Sprintf("Citation %d/%d  %s  (up/down)", m.cursor+1, len(m.citations), c.ID)
	body := c.Text
	if r := []rune(body); len(r) > citationChars {
		body = string(r[:citationChars]) + "..."
	}
	return citationStyle.Render(citationTitleStyle.Render(title) + "\n" + body)
}

const (
	citationHeight = 6
	citationChars  = 320
)

var (
	headerStyle        = lipgloss.NewStyle().Bold(true)
	userStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle           = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	spinnerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	transcriptStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputStyle         = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	citationStyle      = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1).MaxHeight(citationHeight)
	citationTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

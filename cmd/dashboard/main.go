// tojvs dashboard - terminal client for the voice trading kanban.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/kinbanker/tojvs-new/internal/client"
	"github.com/kinbanker/tojvs-new/internal/client/conn"
	"github.com/kinbanker/tojvs-new/internal/client/session"
	"github.com/kinbanker/tojvs-new/internal/domain"
)

const maxTranscript = 50

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	columnStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(24)
	columnTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	cardStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	staleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okDotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	badDotStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	stageHeadings = map[domain.Stage]string{
		domain.StageIntakeBuy:  "Intake Buy",
		domain.StageDoneBuy:    "Done Buy",
		domain.StageIntakeSell: "Intake Sell",
		domain.StageDoneSell:   "Done Sell",
	}
)

type screen int

const (
	screenLogin screen = iota
	screenBoard
)

type (
	frameMsg       conn.Frame
	loggedInMsg    struct{ sess *session.Session }
	connectDoneMsg struct{ err error }
	boardLoadedMsg struct{ err error }
	noticeMsg      struct{ notice *client.Notice }
	errMsg         struct{ err error }
	tickMsg        time.Time
)

// model holds all dashboard state, Elm-style.
type model struct {
	cli    *client.Client
	screen screen

	username textinput.Model
	password textinput.Model
	onPass   bool

	command    textinput.Model
	transcript []string
	errText    string
	width      int
	height     int
}

func newModel(cli *client.Client) model {
	username := textinput.New()
	username.Placeholder = "username"
	username.Focus()
	username.CharLimit = 20

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.CharLimit = 64

	command := textinput.New()
	command.Placeholder = "say something, e.g. buy 10 TSLA at 250"
	command.CharLimit = domain.MaxCommandLength

	return model{
		cli:      cli,
		screen:   screenLogin,
		username: username,
		password: password,
		command:  command,
	}
}

func (m model) Init() tea.Cmd {
	if sess := m.cli.Resume(); sess != nil {
		return tea.Batch(connectCmd(m.cli), textinput.Blink)
	}
	return textinput.Blink
}

func connectCmd(cli *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return connectDoneMsg{err: cli.Connect(ctx)}
	}
}

func reconnectCmd(cli *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if cli.Conn == nil {
			return connectDoneMsg{err: cli.Connect(ctx)}
		}
		return connectDoneMsg{err: cli.Conn.Reconnect(ctx)}
	}
}

func loginCmd(cli *client.Client, username, password string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sess, err := cli.Login(ctx, username, password)
		if err != nil {
			return errMsg{err: err}
		}
		return loggedInMsg{sess: sess}
	}
}

func loadBoardCmd(cli *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return boardLoadedMsg{err: cli.LoadBoard(ctx)}
	}
}

func waitForFrame(cli *client.Client) tea.Cmd {
	return func() tea.Msg {
		if cli.Conn == nil {
			return nil
		}
		return frameMsg(<-cli.Conn.Events())
	}
}

func sendCommandCmd(cli *client.Client, text string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := cli.SendCommand(ctx, text); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cli.Session.Touch()
			return m, tea.Quit
		}
		if m.screen == screenLogin {
			return m.updateLogin(msg)
		}
		return m.updateBoard(msg)

	case loggedInMsg:
		m.errText = ""
		m.append(fmt.Sprintf("logged in as %s", msg.sess.Username))
		return m, tea.Batch(connectCmd(m.cli), loadBoardCmd(m.cli))

	case connectDoneMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
			m.screen = screenBoard
			m.command.Focus()
			return m, nil
		}
		m.screen = screenBoard
		m.command.Focus()
		m.append("channel connected via " + m.cli.Conn.Transport())
		return m, tea.Batch(waitForFrame(m.cli), loadBoardCmd(m.cli), tick())

	case boardLoadedMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
		}
		return m, nil

	case frameMsg:
		cmds := []tea.Cmd{waitForFrame(m.cli)}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		notice, err := m.cli.HandleFrame(ctx, conn.Frame(msg))
		cancel()
		if err != nil {
			m.errText = err.Error()
		} else if notice != nil {
			line := notice.Text
			if notice.Historical {
				line += " (historical)"
			}
			m.append(line)
		}
		return m, tea.Batch(cmds...)

	case errMsg:
		m.errText = msg.err.Error()
		return m, nil

	case tickMsg:
		// Redraw so the connection indicator tracks drops and retries.
		return m, tick()
	}

	return m, nil
}

func (m model) updateLogin(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab":
		m.onPass = !m.onPass
		if m.onPass {
			m.username.Blur()
			m.password.Focus()
		} else {
			m.password.Blur()
			m.username.Focus()
		}
		return m, nil
	case "enter":
		if !m.onPass {
			m.onPass = true
			m.username.Blur()
			m.password.Focus()
			return m, nil
		}
		if m.username.Value() == "" || m.password.Value() == "" {
			m.errText = "username and password required"
			return m, nil
		}
		return m, loginCmd(m.cli, m.username.Value(), m.password.Value())
	}

	var cmd tea.Cmd
	if m.onPass {
		m.password, cmd = m.password.Update(msg)
	} else {
		m.username, cmd = m.username.Update(msg)
	}
	return m, cmd
}

func (m model) updateBoard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+r":
		m.append("reconnecting...")
		return m, tea.Batch(reconnectCmd(m.cli), waitForFrame(m.cli))
	case "ctrl+l":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		m.cli.Logout(ctx)
		cancel()
		return m, tea.Quit
	case "enter":
		text := strings.TrimSpace(m.command.Value())
		if text == "" {
			return m, nil
		}
		m.command.SetValue("")
		m.append("> " + text)
		return m, sendCommandCmd(m.cli, text)
	}

	var cmd tea.Cmd
	m.command, cmd = m.command.Update(msg)
	return m, cmd
}

func (m *model) append(line string) {
	m.transcript = append(m.transcript, line)
	if len(m.transcript) > maxTranscript {
		m.transcript = m.transcript[len(m.transcript)-maxTranscript:]
	}
}

func (m model) View() string {
	if m.screen == screenLogin {
		return m.viewLogin()
	}
	return m.viewBoard()
}

func (m model) viewLogin() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("tojvs") + "\n\n")
	b.WriteString("  " + m.username.View() + "\n")
	b.WriteString("  " + m.password.View() + "\n\n")
	if m.errText != "" {
		b.WriteString("  " + errStyle.Render(m.errText) + "\n")
	}
	b.WriteString(helpStyle.Render("  enter: login  tab: switch field  ctrl+c: quit"))
	return b.String()
}

func (m model) viewBoard() string {
	dot := badDotStyle.Render("●")
	status := "disconnected"
	if m.cli.Conn != nil {
		status = m.cli.Conn.Status()
		if m.cli.Conn.Connected() {
			dot = okDotStyle.Render("●")
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("tojvs pipeline"), "  ", dot, " ", statusStyle.Render(status))

	cols := make([]string, 0, len(domain.Stages))
	for _, stage := range domain.Stages {
		var lines []string
		lines = append(lines, columnTitle.Render(stageHeadings[stage]))
		for _, c := range m.cli.Board.Stage(stage) {
			lines = append(lines, cardStyle.Render(fmt.Sprintf("%s %dx%.2f", c.Ticker, c.Quantity, c.Price)))
		}
		if len(lines) == 1 {
			lines = append(lines, staleStyle.Render("empty"))
		}
		cols = append(cols, columnStyle.Render(strings.Join(lines, "\n")))
	}
	board := lipgloss.JoinHorizontal(lipgloss.Top, cols...)

	var transcript []string
	start := 0
	if len(m.transcript) > 8 {
		start = len(m.transcript) - 8
	}
	for _, line := range m.transcript[start:] {
		transcript = append(transcript, statusStyle.Render(line))
	}

	parts := []string{header, "", board, ""}
	parts = append(parts, transcript...)
	if m.errText != "" {
		parts = append(parts, errStyle.Render(m.errText))
	}
	parts = append(parts, "", m.command.View(),
		helpStyle.Render("enter: send  ctrl+r: reconnect  ctrl+l: logout  ctrl+c: quit"))
	return strings.Join(parts, "\n")
}

func main() {
	_ = godotenv.Load()

	base := os.Getenv("TOJVS_SERVER_URL")
	if base == "" {
		base = "http://localhost:3001"
	}

	path := os.Getenv("TOJVS_SESSION_FILE")
	if path == "" {
		var err error
		path, err = session.DefaultPath()
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot resolve session path:", err)
			os.Exit(1)
		}
	}

	cli := client.New(base, session.NewStore(path))
	p := tea.NewProgram(newModel(cli), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "dashboard failed:", err)
		os.Exit(1)
	}
}

// Package tui provides the Bubble Tea typing interface.
package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/typing"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/wsclient"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const boardRows = 5

// Remote is the live connection a practice session reports to. Sends must
// only queue and return, since they run on the update loop. A nil Remote
// runs the test offline.
type Remote interface {
	SendTypingStatus(isTyping bool) error
	SendTypingUpdate(p protocol.TypingUpdatePayload) error
	SendTestCompleted(requestID string, result protocol.TestResultPayload) error
	Messages() <-chan *protocol.Message
}

type tickMsg struct{ id int }

type remoteMsg struct{ msg *protocol.Message }

type remoteClosedMsg struct{}

// Model implements the Bubble Tea typing UI.
type Model struct {
	engine   *typing.Engine
	passages []string
	next     int
	remote   Remote
	tick     time.Duration

	difficulty string

	width  int
	height int
	bar    progress.Model

	// tickID invalidates ticks scheduled for an earlier run.
	tickID int
	live   typing.Progress
	result *typing.Result

	pendingRequest string
	saveStatus     string
	notice         string
	online         int
	board          []protocol.LeaderboardEntry
	offline        bool
}

var (
	correctStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	incorrectStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	pendingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	currentWordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	cursorStyle      = pendingStyle.Underline(true)
	footerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	statsStyle       = lipgloss.NewStyle().Bold(true)
	noticeStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#69B1FF"))
)

type Option func(*Model)

// WithDifficulty tags submitted results with the passage difficulty.
func WithDifficulty(d string) Option {
	return func(m *Model) { m.difficulty = d }
}

// NewModel builds a model over engine. Passages are used in order and wrap
// around; remote may be nil.
func NewModel(engine *typing.Engine, passages []string, remote Remote, opts ...Option) *Model {
	m := &Model{
		engine:   engine,
		passages: passages,
		remote:   remote,
		tick:     time.Second,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		offline:  remote == nil,
	}
	for _, opt := range opts {
		opt(m)
	}
	engine.SetObservers(
		func(p typing.Progress) { m.live = p },
		func(r typing.Result) { m.result = &r },
	)
	m.loadNext()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	if m.remote == nil {
		return nil
	}
	return waitForRemote(m.remote.Messages())
}

func waitForRemote(ch <-chan *protocol.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return remoteClosedMsg{}
		}
		return remoteMsg{msg: msg}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, m.contentWidth())
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tickMsg:
		return m, m.handleTick(msg)
	case remoteMsg:
		m.handleRemote(msg.msg)
		return m, waitForRemote(m.remote.Messages())
	case remoteClosedMsg:
		m.offline = true
		m.notice = "disconnected from server"
		return m, nil
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyTab:
		m.restart()
		return m, nil
	case tea.KeyEnter:
		if m.engine.State() == typing.StateFinished {
			m.loadNext()
		}
		return m, nil
	case tea.KeyBackspace, tea.KeyDelete:
		return m, m.press(typing.KeyBackspace)
	case tea.KeySpace:
		return m, m.press(" ")
	case tea.KeyRunes:
		var cmds []tea.Cmd
		for _, r := range msg.Runes {
			cmds = append(cmds, m.press(string(r)))
		}
		return m, tea.Batch(cmds...)
	default:
		return m, nil
	}
}

func (m *Model) press(key string) tea.Cmd {
	before := m.engine.State()
	m.engine.Press(key)
	after := m.engine.State()

	switch {
	case after == typing.StateFinished && before != typing.StateFinished:
		m.complete()
		return nil
	case after == typing.StateRunning && before == typing.StateIdle:
		m.tickID++
		m.sendStatus(true)
		return m.scheduleTick()
	}
	return nil
}

func (m *Model) scheduleTick() tea.Cmd {
	id := m.tickID
	return tea.Tick(m.tick, func(time.Time) tea.Msg { return tickMsg{id: id} })
}

func (m *Model) handleTick(msg tickMsg) tea.Cmd {
	if msg.id != m.tickID || m.engine.State() != typing.StateRunning {
		return nil
	}
	m.engine.Tick()
	if m.remote != nil && !m.offline {
		m.sendFailed(m.remote.SendTypingUpdate(protocol.TypingUpdatePayload{
			WPM:      m.live.WPM,
			Accuracy: m.live.Accuracy,
			Progress: m.live.Progress,
			IsTyping: true,
		}))
	}
	if m.engine.State() == typing.StateFinished {
		m.complete()
		return nil
	}
	return m.scheduleTick()
}

func (m *Model) complete() {
	m.tickID++
	res, ok := m.engine.Result()
	if !ok {
		return
	}
	m.result = &res
	m.sendStatus(false)
	if m.remote == nil {
		return
	}
	if m.offline {
		m.saveStatus = "not saved: offline"
		return
	}
	id := uuid.NewString()
	err := m.remote.SendTestCompleted(id, protocol.TestResultPayload{
		WPM:         res.WPM,
		Accuracy:    res.Accuracy,
		Errors:      res.Errors,
		Consistency: res.Consistency,
		WordsTyped:  res.WordsTyped,
		TimeSpent:   res.TimeSpent,
		TestType:    "time",
		Difficulty:  m.difficulty,
		Duration:    int(m.engine.Duration() / time.Second),
	})
	if err != nil {
		m.saveStatus = "not saved: " + err.Error()
		m.sendFailed(err)
		return
	}
	m.pendingRequest = id
	m.saveStatus = "saving…"
}

func (m *Model) sendStatus(isTyping bool) {
	if m.remote != nil && !m.offline {
		m.sendFailed(m.remote.SendTypingStatus(isTyping))
	}
}

// sendFailed surfaces a send error. A full outbox only drops that message;
// anything else means the connection is gone.
func (m *Model) sendFailed(err error) {
	switch {
	case err == nil:
	case errors.Is(err, wsclient.ErrOutboxFull):
		m.notice = "connection slow, update dropped"
	default:
		m.offline = true
		m.notice = "offline: " + err.Error()
	}
}

func (m *Model) handleRemote(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MsgTypingSaved:
		if msg.RequestID != "" && msg.RequestID != m.pendingRequest {
			return
		}
		var ack protocol.TypingSavedPayload
		if err := msg.DecodePayload(&ack); err != nil {
			return
		}
		m.pendingRequest = ""
		if ack.Success {
			m.saveStatus = "saved"
		} else {
			m.saveStatus = "not saved: " + ack.Error
		}
	case protocol.MsgLeaderboardUpdate:
		var rows []protocol.LeaderboardEntry
		if err := msg.DecodePayload(&rows); err == nil {
			m.board = rows
		}
	case protocol.MsgOnlineUsersUpdate:
		var p protocol.OnlineUsersPayload
		if err := msg.DecodePayload(&p); err == nil {
			m.online = p.Count
		}
	case protocol.MsgSystemMessage:
		var p protocol.SystemMessagePayload
		if err := msg.DecodePayload(&p); err == nil {
			m.notice = p.Message
		}
	case protocol.MsgError:
		var p protocol.ErrorPayload
		if err := msg.DecodePayload(&p); err == nil {
			m.notice = p.Code + ": " + p.Message
		}
	}
}

func (m *Model) restart() {
	m.tickID++
	if m.engine.State() == typing.StateRunning {
		m.sendStatus(false)
	}
	m.engine.Reset()
	m.reset()
}

func (m *Model) loadNext() {
	m.tickID++
	passage := ""
	if len(m.passages) > 0 {
		passage = m.passages[m.next%len(m.passages)]
		m.next++
	}
	m.engine.Load(passage)
	m.reset()
}

func (m *Model) reset() {
	m.live = typing.Progress{}
	m.result = nil
	m.pendingRequest = ""
	m.saveStatus = ""
}

func (m *Model) contentWidth() int {
	w := int(float64(m.width) * 0.70)
	if w < 1 {
		w = 1
	}
	return w
}

// View implements tea.Model.
func (m *Model) View() string {
	snap := m.engine.Snapshot()
	text := buildStyledRunes(snap.Slots, snap.Cursor)

	if m.width == 0 || m.height == 0 {
		return renderStyledRunes(text) + "\n" + m.renderStats(snap)
	}
	width := m.contentWidth()
	sections := []string{
		statsStyle.Render(m.renderStats(snap)),
		m.bar.ViewAs(progressFraction(snap)),
		lipgloss.NewStyle().Width(width).Render(wrapStyledRunes(text, width)),
	}
	if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	if board := m.renderBoard(); board != "" {
		sections = append(sections, board)
	}
	content := lipgloss.JoinVertical(lipgloss.Left, sections...)

	footer := footerStyle.Render(m.renderFooter(snap))
	body := lipgloss.Place(m.width, max(1, m.height-1), lipgloss.Center, lipgloss.Center, content)
	return body + "\n" + lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
}

func progressFraction(snap typing.Snapshot) float64 {
	if len(snap.Slots) == 0 {
		return 0
	}
	return float64(snap.Cursor) / float64(len(snap.Slots))
}

func (m *Model) renderStats(snap typing.Snapshot) string {
	if res := snap.Result; res != nil {
		line := fmt.Sprintf("%.0f WPM · %.1f%% acc · %d errors · %.0f%% consistency · %ds",
			res.WPM, res.Accuracy, res.Errors, res.Consistency, res.TimeSpent)
		if m.saveStatus != "" {
			line += " · " + m.saveStatus
		}
		return line
	}
	return fmt.Sprintf("%.0f WPM · %.1f%% acc · %ds", snap.WPM, snap.Accuracy, snap.Remaining)
}

func (m *Model) renderBoard() string {
	if len(m.board) == 0 {
		return ""
	}
	rows := lo.Map(lo.Slice(m.board, 0, boardRows), func(e protocol.LeaderboardEntry, _ int) string {
		return fmt.Sprintf("%2d. %-16s %6.1f WPM %5.1f%%", e.Rank, e.Username, e.BestWPM, e.AvgAccuracy)
	})
	return footerStyle.Render(strings.Join(rows, "\n"))
}

func (m *Model) renderFooter(snap typing.Snapshot) string {
	var segments []string
	switch snap.State {
	case typing.StateFinished:
		segments = append(segments, "enter next passage")
	default:
		if hint := keyHint(snap); hint != "" {
			segments = append(segments, hint)
		}
	}
	segments = append(segments, "tab restart", "esc quit")
	if m.offline {
		segments = append(segments, "offline")
	} else {
		segments = append(segments, fmt.Sprintf("%d online", m.online))
	}
	return strings.Join(segments, "  ")
}

func keyHint(snap typing.Snapshot) string {
	if snap.Cursor >= len(snap.Slots) {
		return ""
	}
	r := snap.Slots[snap.Cursor].Char
	hint, ok := typing.HintFor(r)
	if !ok {
		return ""
	}
	s := fmt.Sprintf("%s %s", hint.Hand, hint.Finger)
	if hint.Shift {
		s += " + shift"
	}
	return s
}

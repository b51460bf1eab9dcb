package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-gridbeat/midiclock"
	"go-gridbeat/sequencer"
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	clockStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
)

type Model struct {
	Engine    *sequencer.Engine
	Recorder  *sequencer.Recorder
	Generator *midiclock.Generator
	Follower  *midiclock.Follower

	stateCh <-chan sequencer.State
	clockCh <-chan midiclock.State

	state    sequencer.State
	clock    midiclock.State
	cursor   int
	track    int
	quitting bool
}

type StateMsg sequencer.State

type ClockMsg midiclock.State

func NewModel(engine *sequencer.Engine, rec *sequencer.Recorder, gen *midiclock.Generator, fol *midiclock.Follower) Model {
	m := Model{
		Engine:    engine,
		Recorder:  rec,
		Generator: gen,
		Follower:  fol,
		stateCh:   engine.Broadcast().Subscribe(),
	}
	if fol != nil {
		m.clockCh = fol.StateChanges()
	}
	m.state = engine.State()
	return m
}

func listenForState(ch <-chan sequencer.State) tea.Cmd {
	return func() tea.Msg {
		return StateMsg(<-ch)
	}
}

func listenForClock(ch <-chan midiclock.State) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return ClockMsg(<-ch)
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		listenForState(m.stateCh),
		listenForClock(m.clockCh),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case StateMsg:
		m.state = sequencer.State(msg)
		return m, listenForState(m.stateCh)

	case ClockMsg:
		m.clock = midiclock.State(msg)
		return m, listenForClock(m.clockCh)
	}

	return m, nil
}

func (m Model) handleKey(key string) (tea.Model, tea.Cmd) {
	pat, hasPat := m.Engine.Pattern()

	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Engine.Stop()
		if m.Generator != nil {
			m.Generator.Stop()
		}
		return m, tea.Quit

	case "p":
		if m.state.Playing {
			m.Engine.Stop()
			if m.Generator != nil {
				m.Generator.Stop()
			}
		} else {
			if m.Engine.Start() == nil && m.Generator != nil {
				m.Generator.Start(m.Engine.Tempo())
			}
		}

	case "o":
		if m.state.Paused {
			m.Engine.Resume()
		} else if m.state.Playing {
			m.Engine.Pause()
		}

	case "+", "=":
		m.Engine.SetTempo(m.Engine.Tempo() + 5)
		if m.Generator != nil {
			m.Generator.SetTempo(m.Engine.Tempo())
		}

	case "-", "_":
		m.Engine.SetTempo(m.Engine.Tempo() - 5)
		if m.Generator != nil {
			m.Generator.SetTempo(m.Engine.Tempo())
		}

	case "[":
		m.Engine.SetSwing(m.Engine.Swing() - 0.05)

	case "]":
		m.Engine.SetSwing(m.Engine.Swing() + 0.05)

	case "h", "left":
		if m.cursor > 0 {
			m.cursor--
		}

	case "l", "right":
		if hasPat && m.cursor < pat.Length-1 {
			m.cursor++
		}

	case "j", "down":
		if m.track < sequencer.NumTracks-1 {
			m.track++
		}

	case "k", "up":
		if m.track > 0 {
			m.track--
		}

	case " ":
		if hasPat {
			if next, err := sequencer.ToggleStep(pat, m.track, m.cursor); err == nil {
				m.Engine.CommitPattern(next)
			}
		}

	case "c":
		if hasPat {
			if next, err := sequencer.ClearTrack(pat, m.track); err == nil {
				m.Engine.CommitPattern(next)
			}
		}

	case "r":
		if m.Recorder == nil || !hasPat {
			break
		}
		if m.Recorder.IsRecording() {
			if next, err := m.Recorder.StopRecording(); err == nil {
				m.Engine.CommitPattern(next)
			}
			m.Engine.SetRecording(false)
		} else {
			mode := m.state.RecordingMode
			if mode == sequencer.ModePunchIn {
				mode = sequencer.ModeOverdub
			}
			if err := m.Recorder.StartRecording(pat, mode); err == nil {
				m.Engine.SetRecording(true)
			}
		}

	case "m":
		next := (m.state.RecordingMode + 1) % 3
		m.Engine.SetRecordingMode(next)
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	pat, hasPat := m.Engine.Pattern()

	playState := "STOP"
	switch {
	case m.state.Paused:
		playState = "PAUSE"
	case m.state.Playing:
		playState = "PLAY"
	}
	recState := ""
	if m.state.Recording {
		recState = fmt.Sprintf("  REC(%s)", m.state.RecordingMode)
	}

	name := "(no pattern)"
	if hasPat {
		name = pat.Name
	}
	header := headerStyle.Render(fmt.Sprintf("go-gridbeat  %s  %s  %5.1fbpm  swing:%0.2f  step:%02d%s",
		name, playState, m.state.Tempo, m.state.Swing, m.state.CurrentStep, recState))

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")

	if hasPat {
		out.WriteString(m.renderGrid(pat))
	}

	out.WriteString("\n")
	out.WriteString(m.renderClock())
	out.WriteString("\n")

	if m.state.StatusMessage != "" {
		out.WriteString(alertStyle.Render(m.state.StatusMessage))
		out.WriteString("\n")
	}

	out.WriteString("\n")
	out.WriteString(dimStyle.Render("hjkl:nav  space:toggle  c:clear track  p:play/stop  o:pause  r:record  m:rec mode  +/-:tempo  [/]:swing  q:quit"))
	out.WriteString("\n")
	return out.String()
}

// renderGrid draws the track x step grid with playhead and cursor
func (m Model) renderGrid(pat sequencer.Pattern) string {
	var out strings.Builder
	for t := 0; t < sequencer.NumTracks; t++ {
		out.WriteString(fmt.Sprintf("%2d ", t+1))
		for s := 0; s < pat.Length; s++ {
			isCursor := t == m.track && s == m.cursor
			_, active := stepActive(pat, t, s)

			var char string
			switch {
			case m.state.Playing && s == m.state.CurrentStep:
				if isCursor {
					char = "▷"
				} else {
					char = "▶"
				}
			case active:
				if isCursor {
					char = "◉"
				} else {
					char = "●"
				}
			default:
				if isCursor {
					char = "○"
				} else {
					char = "·"
				}
			}
			out.WriteString(char)
		}
		out.WriteString("\n")
	}
	return out.String()
}

func stepActive(pat sequencer.Pattern, track, pos int) (sequencer.Step, bool) {
	s, ok := pat.StepAt(track, pos)
	if !ok || !s.Active {
		return sequencer.Step{}, false
	}
	return s, true
}

// renderClock draws the MIDI clock status line
func (m Model) renderClock() string {
	parts := []string{fmt.Sprintf("clock:%s", m.state.ClockSource)}

	if m.Generator != nil {
		g := m.Generator.State()
		if g.Sending {
			avg, max := m.Generator.JitterStats()
			parts = append(parts, fmt.Sprintf("out:%5.1fbpm jitter avg %.2fms max %.2fms",
				g.BPM, float64(avg)/1e6, float64(max)/1e6))
		} else {
			parts = append(parts, "out:off")
		}
	}

	if m.Follower != nil {
		if m.clock.Receiving {
			parts = append(parts, fmt.Sprintf("in:%5.1fbpm (%s)", m.clock.BPM, m.clock.SourceID))
		} else {
			parts = append(parts, "in:silent")
		}
	}

	return clockStyle.Render(strings.Join(parts, "  "))
}

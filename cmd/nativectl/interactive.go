package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/nativeguard/call"
	"github.com/wippyai/nativeguard/memory"
	"github.com/wippyai/nativeguard/native"
	"github.com/wippyai/nativeguard/resource"
	"github.com/wippyai/nativeguard/runtime"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD166"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			MarginLeft(2)
)

const refreshInterval = time.Second

type dashboardModel struct {
	ctx      context.Context
	err      error
	rt       *runtime.Runtime
	name     string
	result   string
	status   string
	sigs     []native.Signature
	tags     []resource.TypeTag
	held     []*resource.Resource
	inputs   []textinput.Model
	diag     runtime.Diagnostics
	selected int
	focusIdx int
	state    modelState
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateShowResult
)

type tickMsg time.Time

type callResultMsg struct {
	err    error
	result string
}

type acquiredMsg struct {
	err error
	res *resource.Resource
}

type releasedMsg struct {
	err error
	n   int
}

func newDashboardModel(ctx context.Context, rt *runtime.Runtime, name string, sigs []native.Signature, tags []resource.TypeTag) *dashboardModel {
	return &dashboardModel{
		ctx:   ctx,
		rt:    rt,
		name:  name,
		sigs:  sigs,
		tags:  tags,
		diag:  rt.Diagnostics(),
		state: stateSelectFunc,
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *dashboardModel) Init() tea.Cmd {
	return tick()
}

func (m *dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.sigs)-1 {
				m.selected++
			}

		case "a":
			if m.state == stateSelectFunc && len(m.tags) > 0 {
				return m, m.acquire
			}

		case "x":
			if m.state == stateSelectFunc && len(m.held) > 0 {
				return m, m.releaseAll
			}

		case "r":
			if m.state == stateSelectFunc {
				for _, ep := range m.rt.Calls().Endpoints() {
					m.rt.Calls().Reset(ep)
				}
				m.status = "circuits reset"
				m.diag = m.rt.Diagnostics()
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.sigs) == 0 {
					break
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case tickMsg:
		m.diag = m.rt.Diagnostics()
		return m, tick()

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
		m.diag = m.rt.Diagnostics()

	case acquiredMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("acquire: " + msg.err.Error())
		} else {
			m.held = append(m.held, msg.res)
			m.status = "acquired " + msg.res.Handle().String()
		}
		m.diag = m.rt.Diagnostics()

	case releasedMsg:
		m.held = nil
		m.status = fmt.Sprintf("disposed %d resources", msg.n)
		if msg.err != nil {
			m.status = errorStyle.Render("dispose: " + msg.err.Error())
		}
		m.diag = m.rt.Diagnostics()
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *dashboardModel) prepareInputs() {
	sig := m.sigs[m.selected]
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i, p := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = paramType(p)
		name := p.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		ti.Prompt = name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *dashboardModel) callFunction() tea.Msg {
	sig := m.sigs[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	args, err := parseArgs(raw, &sig)
	if err != nil {
		return callResultMsg{err: err}
	}

	start := time.Now()
	v, err := m.rt.Invoke(m.ctx, sig.Name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: fmt.Sprintf("%s  (%s)", v, time.Since(start).Round(time.Microsecond))}
}

func (m *dashboardModel) acquire() tea.Msg {
	res, err := m.rt.AcquireResource(m.ctx, m.tags[0])
	return acquiredMsg{res: res, err: err}
}

func (m *dashboardModel) releaseAll() tea.Msg {
	var firstErr error
	for _, r := range m.held {
		if err := m.rt.Dispose(m.ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return releasedMsg{n: len(m.held), err: firstErr}
}

func (m *dashboardModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("nativectl"))
	b.WriteString(" ")
	b.WriteString(m.name)
	b.WriteString("\n\n")

	var body strings.Builder
	switch m.state {
	case stateSelectFunc:
		body.WriteString("Select a function to call:\n\n")
		if len(m.sigs) == 0 {
			body.WriteString(helpStyle.Render("  (library declares no signatures)\n"))
		}
		for i, sig := range m.sigs {
			if i == m.selected {
				body.WriteString(selectedStyle.Render("> " + formatSignature(sig)))
			} else {
				body.WriteString("  " + funcStyle.Render(formatSignature(sig)))
			}
			body.WriteString("\n")
		}
		if m.status != "" {
			body.WriteString("\n" + m.status + "\n")
		}
		body.WriteString("\n")
		help := "↑/↓ select • enter call • r reset circuits • q quit"
		if len(m.tags) > 0 {
			help = "↑/↓ select • enter call • a acquire • x dispose • r reset circuits • q quit"
		}
		body.WriteString(helpStyle.Render(help))

	case stateInputArgs:
		sig := m.sigs[m.selected]
		fmt.Fprintf(&body, "Calling %s\n\n", funcStyle.Render(sig.Name))
		for i, input := range m.inputs {
			body.WriteString(input.View())
			body.WriteString(" ")
			body.WriteString(typeStyle.Render(paramType(sig.Params[i])))
			body.WriteString("\n")
		}
		body.WriteString("\n")
		body.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		sig := m.sigs[m.selected]
		fmt.Fprintf(&body, "Result of %s:\n\n", funcStyle.Render(sig.Name))
		if m.err != nil {
			body.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			body.WriteString(resultStyle.Render(m.result))
		}
		body.WriteString("\n\n")
		body.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, body.String(), panelStyle.Render(m.dashboard())))
	return b.String()
}

func (m *dashboardModel) dashboard() string {
	d := m.diag
	var b strings.Builder

	b.WriteString(titleStyle.Render("circuits"))
	b.WriteString("\n")
	endpoints := make([]string, 0, len(d.Circuits))
	for ep := range d.Circuits {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	if len(endpoints) == 0 {
		b.WriteString(helpStyle.Render("no calls yet"))
		b.WriteString("\n")
	}
	for _, ep := range endpoints {
		fmt.Fprintf(&b, "%-14s %s\n", ep, stateStyle(d.Circuits[ep]))
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("resources"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "live      %d\n", d.Live)
	for tag, n := range d.Resources {
		fmt.Fprintf(&b, "  %-8s %d\n", tag, n)
	}
	fmt.Fprintf(&b, "anomalies %d\n", d.Anomalies)
	fmt.Fprintf(&b, "leaked    %d\n", d.Leaked)

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("memory"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "pressure  %s\n", levelStyle(d.Pressure))
	fmt.Fprintf(&b, "trend     %s\n", d.Trend)
	fmt.Fprintf(&b, "gc        %d/%d\n", d.Collections.Performed, d.Collections.Requested)
	return b.String()
}

func stateStyle(s call.State) string {
	switch s {
	case call.StateOpen:
		return errorStyle.Render(s.String())
	case call.StateHalfOpen:
		return warnStyle.Render(s.String())
	default:
		return resultStyle.Render(s.String())
	}
}

func levelStyle(l memory.Level) string {
	switch l {
	case memory.LevelCritical:
		return errorStyle.Render(l.String())
	case memory.LevelElevated:
		return warnStyle.Render(l.String())
	default:
		return resultStyle.Render(l.String())
	}
}

func runInteractive(ctx context.Context, rt *runtime.Runtime, name string, sigs []native.Signature, tags []resource.TypeTag) error {
	m := newDashboardModel(ctx, rt, name, sigs, tags)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	for _, r := range m.held {
		_ = rt.Dispose(context.WithoutCancel(ctx), r)
	}
	return err
}

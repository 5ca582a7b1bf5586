package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"carrec/internal/dataset"
	"carrec/internal/domain"
	"carrec/internal/insights"
	"carrec/internal/logging"
	"carrec/internal/recommend"
)

// Recommender is the TUI-facing subset of the recommendation pipeline.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*domain.RecommendationResult, error)
}

type focus int

const (
	focusRequirements focus = iota
	focusFilters
)

type view int

const (
	viewResults view = iota
	viewCharts
)

// resultMsg carries a finished pipeline run back into Update. seq drops
// answers to requests that were canceled or superseded.
type resultMsg struct {
	seq    int
	result *domain.RecommendationResult
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	rec  Recommender
	data *dataset.Dataset
	log  zerolog.Logger

	criteria   domain.FilterCriteria
	candidates *dataset.Dataset
	overview   insights.Overview

	input    textinput.Model
	filters  textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	focus  focus
	view   view
	metric int

	result  *domain.RecommendationResult
	cursor  int
	status  string
	loading bool
	seq     int
	cancel  context.CancelFunc
	ready   bool
}

// New creates a new TUI model over a cleaned dataset.
func New(rec Recommender, data *dataset.Dataset) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe the car you want and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	fi := textinput.New()
	fi.Prompt = "filters: "
	fi.Placeholder = "year=2018-2022; make=Toyota,Honda; body=Midsize Cars"
	fi.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		rec:        rec,
		data:       data,
		log:        logging.Component("tui"),
		candidates: data,
		overview:   insights.Summary(data),
		input:      ti,
		filters:    fi,
		viewport:   viewport.New(0, 0),
		spinner:    sp,
		status:     fmt.Sprintf("Loaded %d cars. Tab edits filters, Ctrl+G shows charts.", data.Len()),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + 2*(qh+1) + 1 // header, summary, status, two input boxes
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width-4)
		m.viewport.Height = max(3, vh-rh)
		m.refresh()
		return m, nil

	case resultMsg:
		if msg.seq != m.seq {
			return m, nil
		}
		m.loading, m.cancel = false, nil
		if msg.err != nil {
			m.status = "Error: " + userMessage(msg.err)
			m.result = nil
		} else {
			m.result, m.cursor = msg.result, 0
			m.status = fmt.Sprintf("%d recommendation(s) from %d candidates", len(msg.result.Recommendations), msg.result.Candidates)
			if msg.result.Empty() {
				m.status = "No car in the dataset matched the suggestions."
			}
		}
		m.view = viewResults
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.focus == focusFilters {
				return m.applyFilters(), nil
			}
			return m.submit()
		case "tab":
			return m.toggleFocus(), nil
		case "esc":
			if m.loading && m.cancel != nil {
				m.cancel()
				m.loading, m.cancel = false, nil
				m.seq++
				m.status = "Request canceled."
				return m, nil
			}
		case "ctrl+g":
			if m.view == viewCharts {
				m.view = viewResults
			} else {
				m.view = viewCharts
			}
			m.refresh()
			return m, nil
		case "left", "right":
			if m.view == viewCharts {
				step := 1
				if msg.String() == "left" {
					step = len(insights.Metrics) - 1
				}
				m.metric = (m.metric + step) % len(insights.Metrics)
				m.refresh()
				return m, nil
			}
		case "down":
			if m.view == viewResults && m.hasResults() {
				m.cursor = (m.cursor + 1) % len(m.result.Recommendations)
				m.refresh()
				return m, nil
			}
		case "up":
			if m.view == viewResults && m.hasResults() {
				n := len(m.result.Recommendations)
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	if m.focus == focusFilters {
		m.filters, cmd = m.filters.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	if m.loading {
		return m, nil
	}
	q := strings.TrimSpace(m.input.Value())
	if q == "" {
		m.status = "Error: " + userMessage(domain.ErrEmptyRequirements)
		return m, nil
	}
	if m.candidates.Len() == 0 {
		m.status = "Error: " + userMessage(domain.ErrEmptyCandidateSet)
		return m, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctx = logging.ContextWithRequestID(ctx, logging.NewRequestID())
	m.seq++
	m.loading, m.cancel = true, cancel
	m.status = fmt.Sprintf("Asking the model about %d cars... (Esc cancels)", m.candidates.Len())
	m.log.Info().Str("request_id", logging.RequestIDFromContext(ctx)).Msg("recommendation requested")

	req := recommend.Request{Requirements: q, Criteria: m.criteria, Candidates: m.candidates}
	seq, rec := m.seq, m.rec
	run := func() tea.Msg {
		defer cancel()
		res, err := rec.Recommend(ctx, req)
		return resultMsg{seq: seq, result: res, err: err}
	}
	return m, tea.Batch(run, m.spinner.Tick)
}

func (m Model) applyFilters() Model {
	c, err := ParseFilters(m.filters.Value())
	if err != nil {
		m.status = "Error: " + err.Error()
		return m
	}
	m.criteria = c
	m.candidates = dataset.Filter(m.data, c)
	m.overview = insights.Summary(m.candidates)
	m.status = fmt.Sprintf("%d of %d cars match the filters.", m.candidates.Len(), m.data.Len())
	m.log.Debug().Interface("criteria", c).Int("candidates", m.candidates.Len()).Msg("filters applied")
	m.refresh()
	return m.toggleFocus()
}

func (m Model) toggleFocus() Model {
	if m.focus == focusRequirements {
		m.focus = focusFilters
		m.input.Blur()
		m.filters.Focus()
	} else {
		m.focus = focusRequirements
		m.filters.Blur()
		m.input.Focus()
	}
	return m
}

func (m Model) hasResults() bool { return m.result != nil && len(m.result.Recommendations) > 0 }

func (m *Model) refresh() {
	if m.view == viewCharts {
		m.viewport.SetContent(m.renderChart())
	} else {
		m.viewport.SetContent(m.renderCurrentResult())
	}
	m.viewport.GotoTop()
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Car Recommendations")
	summary := dimStyle.Render(overviewLine(m.overview))
	input := queryBoxStyle.Render(m.input.View())
	filters := queryBoxStyle.Render(m.filters.View())
	status := statusStyle.Render(m.status)
	if m.loading {
		status = m.spinner.View() + " " + status
	}
	if strings.HasPrefix(m.status, "Error:") {
		status = errorStyle.Render(m.status)
	}
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + filters + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if m.result == nil {
		return "No results yet."
	}
	if !m.hasResults() {
		out := "No car in the dataset matched the model's suggestions."
		if m.result.Explanation != "" {
			out += "\n\n" + dimStyle.Render("Model reply:") + "\n" + m.result.Explanation
		}
		return out
	}
	r := m.result.Recommendations[m.cursor]
	title := fmt.Sprintf("Recommendation %d/%d", m.cursor+1, len(m.result.Recommendations))
	body := highlightStyle.Render(r.Vehicle.Name())
	if d := r.Vehicle.Details(); d != "" {
		body += "\n" + d
	}
	if r.Rationale != "" {
		body += "\n\n" + r.Rationale
	}
	for _, f := range r.Vehicle.Extra {
		body += "\n" + dimStyle.Render(f.Name+": ") + f.Value
	}
	if len(m.result.Unresolved) > 0 {
		body += "\n\n" + dimStyle.Render("Not in dataset: "+strings.Join(m.result.Unresolved, ", "))
	}
	return title + "\n\n" + body
}

func (m Model) renderChart() string {
	metric := insights.Metrics[m.metric]
	s := insights.Summarize(m.candidates, metric)
	title := fmt.Sprintf("%s  (%d/%d, left/right to switch)", s.Title, m.metric+1, len(insights.Metrics))
	if s.Empty() {
		return title + "\n\nNo data for this chart."
	}
	return title + "\n\n" + s.Bars(max(10, m.viewport.Width-40))
}

func overviewLine(o insights.Overview) string {
	line := fmt.Sprintf("%d cars, %d makes", o.Total, o.Makes)
	if o.YearMin != 0 {
		line += fmt.Sprintf(", %d-%d", o.YearMin, o.YearMax)
	}
	return line
}

// userMessage maps pipeline errors to the status line.
func userMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmptyRequirements):
		return "describe what you are looking for first"
	case errors.Is(err, domain.ErrEmptyCandidateSet):
		return "no cars match the current filters"
	case errors.Is(err, domain.ErrCredential):
		return "the API key is missing or was rejected"
	case errors.Is(err, domain.ErrRateLimited):
		return "the model service is rate limiting requests, try again shortly"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	case errors.Is(err, domain.ErrTransport):
		return "could not reach the model service"
	default:
		return err.Error()
	}
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

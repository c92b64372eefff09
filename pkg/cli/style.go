package cli

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/haivivi/voicecmd/pkg/command"
)

// Theme defines the color scheme for live output.
type Theme struct {
	Primary lipgloss.Color // recognized commands
	Reject  lipgloss.Color // rejected utterances
	Error   lipgloss.Color // failed utterances
	Dim     lipgloss.Color // secondary text
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Reject:  lipgloss.Color("#e3b341"),
	Error:   lipgloss.Color("#ff5f5f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Label  lipgloss.Style
	Reject lipgloss.Style
	Error  lipgloss.Style
	Help   lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Label:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Width(18),
		Reject: lipgloss.NewStyle().Foreground(t.Reject).Width(18),
		Error:  lipgloss.NewStyle().Foreground(t.Error),
		Help:   lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// RenderResult formats one result as a single terminal line.
func (s Styles) RenderResult(r command.Result) string {
	conf := s.Help.Render(fmt.Sprintf("%5.1f%%", r.Confidence*100))
	switch {
	case r.Err != nil:
		return s.Reject.Render(r.Label.String()) + " " + s.Error.Render(r.Err.Error())
	case r.Recognized():
		return s.Label.Render(r.Label.String()) + " " + conf + " " + s.Help.Render("«"+r.Label.Phrase()+"»")
	default:
		return s.Reject.Render(r.Label.String()) + " " + conf
	}
}

// ResultView is the serializable form of a command.Result.
type ResultView struct {
	Source     string  `json:"source,omitempty" yaml:"source,omitempty"`
	Utterance  string  `json:"utterance,omitempty" yaml:"utterance,omitempty"`
	Label      string  `json:"label" yaml:"label"`
	Phrase     string  `json:"phrase" yaml:"phrase"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Recognized bool    `json:"recognized" yaml:"recognized"`
	Duration   string  `json:"duration,omitempty" yaml:"duration,omitempty"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewResultView converts r. d is the utterance duration, zero if unknown.
func NewResultView(r command.Result, d time.Duration) ResultView {
	v := ResultView{
		Label:      r.Label.String(),
		Phrase:     r.Label.Phrase(),
		Confidence: r.Confidence,
		Recognized: r.Recognized(),
	}
	if r.UtteranceID != uuid.Nil {
		v.Utterance = r.UtteranceID.String()
	}
	if d > 0 {
		v.Duration = d.String()
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

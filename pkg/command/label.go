// Package command defines the recognizable voice commands and the channel
// that carries recognition results to consumers.
package command

import (
	"fmt"
	"strings"
)

// Label is a recognized command. The numeric value of the 16 commands is
// the class index of the classifier output.
type Label int

const (
	Bold Label = iota
	Italic
	Underline
	Strikethrough
	ClearFormatting
	Superscript
	Subscript
	ChangeCase
	AlignLeft
	AlignCenter
	AlignRight
	AlignJustify
	BulletedList
	NumberedList
	IncreaseIndent
	DecreaseIndent

	// NumCommands is the number of recognizable commands.
	NumCommands = iota
)

// Reject means no command was recognized with enough confidence.
const Reject Label = -1

var labelNames = [NumCommands]string{
	"bold",
	"italic",
	"underline",
	"strikethrough",
	"clear_formatting",
	"superscript",
	"subscript",
	"change_case",
	"align_left",
	"align_center",
	"align_right",
	"align_justify",
	"bulleted_list",
	"numbered_list",
	"increase_indent",
	"decrease_indent",
}

// Spoken phrases the classifier was trained on.
var labelPhrases = [NumCommands]string{
	"Полужирный",
	"Курсив",
	"Подчёркнутый",
	"Зачёркнутый",
	"Удалить форматирование",
	"Верхний индекс",
	"Нижний индекс",
	"Изменить регистр",
	"По левому краю",
	"По центру",
	"По правому краю",
	"По ширине",
	"Ненумерованный список",
	"Нумерованный список",
	"Увеличить отступ",
	"Уменьшить отступ",
}

// Valid reports whether l is one of the 16 commands.
func (l Label) Valid() bool {
	return l >= 0 && l < NumCommands
}

func (l Label) String() string {
	if l == Reject {
		return "reject"
	}
	if !l.Valid() {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l]
}

// Phrase returns the spoken phrase for the command, or "мимо" for Reject.
func (l Label) Phrase() string {
	if l == Reject {
		return "мимо"
	}
	if !l.Valid() {
		return ""
	}
	return labelPhrases[l]
}

// ParseLabel accepts a label name ("align_left"), "reject", or a spoken
// phrase (case-insensitive).
func ParseLabel(s string) (Label, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "reject") || strings.EqualFold(s, "мимо") {
		return Reject, nil
	}
	for i := range NumCommands {
		if strings.EqualFold(s, labelNames[i]) || strings.EqualFold(s, labelPhrases[i]) {
			return Label(i), nil
		}
	}
	return Reject, fmt.Errorf("command: unknown label %q", s)
}

// Labels returns the 16 commands in class index order.
func Labels() []Label {
	out := make([]Label, NumCommands)
	for i := range out {
		out[i] = Label(i)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (l Label) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Label) UnmarshalText(b []byte) error {
	v, err := ParseLabel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

package tui

import (
	"strings"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/typing"
	"github.com/mattn/go-runewidth"
)

type styledRune struct {
	s       string
	width   int
	isSpace bool
}

// buildStyledRunes colours every passage slot by its scoring status. The
// untyped rest of the word under the cursor is highlighted.
func buildStyledRunes(slots []typing.Slot, cursor int) []styledRune {
	word := wordAt(slots, cursor)

	out := make([]styledRune, 0, len(slots))
	for i, slot := range slots {
		displayed := slot.Char
		style := pendingStyle
		switch slot.Status {
		case typing.StatusCorrect:
			style = correctStyle
		case typing.StatusIncorrect:
			style = incorrectStyle
			if slot.Char == ' ' {
				displayed = '•'
			}
		case typing.StatusCurrent:
			style = cursorStyle
			if slot.Char != ' ' && i >= word.start && i < word.end {
				style = currentWordStyle.Underline(true)
			}
		default:
			if slot.Char != ' ' && i >= word.start && i < word.end {
				style = currentWordStyle
			}
		}
		out = append(out, styledRune{
			s:       style.Render(string(displayed)),
			width:   runewidth.RuneWidth(displayed),
			isSpace: slot.Char == ' ',
		})
	}
	return out
}

type wordRange struct {
	start int
	end   int
}

func wordAt(slots []typing.Slot, cursor int) wordRange {
	if cursor < 0 || cursor >= len(slots) || slots[cursor].Char == ' ' {
		return wordRange{start: -1, end: -1}
	}
	start := cursor
	for start > 0 && slots[start-1].Char != ' ' {
		start--
	}
	end := cursor
	for end < len(slots) && slots[end].Char != ' ' {
		end++
	}
	return wordRange{start: start, end: end}
}

func renderStyledRunes(runes []styledRune) string {
	var b strings.Builder
	for _, item := range runes {
		b.WriteString(item.s)
	}
	return b.String()
}

// wrapStyledRunes breaks at the last space that fits, or mid-word when a
// single word is wider than the line.
func wrapStyledRunes(runes []styledRune, width int) string {
	if width <= 0 {
		return renderStyledRunes(runes)
	}
	var out strings.Builder
	line := make([]styledRune, 0, len(runes))
	lineWidth := 0
	lastSpace := -1

	for i := 0; i < len(runes); {
		item := runes[i]
		if lineWidth+item.width > width && len(line) > 0 {
			if lastSpace >= 0 {
				out.WriteString(renderStyledRunes(line[:lastSpace+1]))
				out.WriteRune('\n')
				line = append([]styledRune{}, line[lastSpace+1:]...)
			} else {
				out.WriteString(renderStyledRunes(line))
				out.WriteRune('\n')
				line = line[:0]
			}
			lineWidth = lineWidthOf(line)
			lastSpace = lastSpaceIndex(line)
			continue
		}
		line = append(line, item)
		lineWidth += item.width
		if item.isSpace {
			lastSpace = len(line) - 1
		}
		i++
	}
	out.WriteString(renderStyledRunes(line))
	return out.String()
}

func lineWidthOf(line []styledRune) int {
	total := 0
	for _, item := range line {
		total += item.width
	}
	return total
}

func lastSpaceIndex(line []styledRune) int {
	for i := len(line) - 1; i >= 0; i-- {
		if line[i].isSpace {
			return i
		}
	}
	return -1
}

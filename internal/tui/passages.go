package tui

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

var builtinPassages = map[string][]string{
	"beginner": {
		"The quick brown fox jumps over the lazy dog.",
		"A journey of a thousand miles begins with a single step.",
		"Practice makes perfect when you keep trying.",
	},
	"intermediate": {
		"Technology has revolutionized the way we communicate and work in the modern world.",
		"The development of artificial intelligence continues to advance at an unprecedented pace.",
		"Programming requires logical thinking and attention to detail for success.",
	},
	"advanced": {
		"In the rapidly evolving landscape of technology, the ability to type efficiently has become more crucial than ever before. Whether you are a student, professional, or simply someone who spends considerable time on a computer, improving your typing speed and accuracy can significantly enhance your productivity and overall digital experience.",
	},
}

// Passages returns the built-in passages for a difficulty level.
func Passages(difficulty string) ([]string, error) {
	p, ok := builtinPassages[strings.ToLower(difficulty)]
	if !ok {
		return nil, fmt.Errorf("unknown difficulty %q (want beginner, intermediate or advanced)", difficulty)
	}
	return append([]string(nil), p...), nil
}

// ParsePassages splits text into one passage per non-blank line with runs
// of whitespace collapsed.
func ParsePassages(text string) []string {
	return lo.FilterMap(strings.Split(text, "\n"), func(line string, _ int) (string, bool) {
		line = strings.Join(strings.Fields(line), " ")
		return line, line != ""
	})
}

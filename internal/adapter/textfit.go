package adapter

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

const (
	bubbleRatio = 0.65
	clampRatio  = 0.75
	clampLines  = 4
	ellipsis    = "…"
)

// RuneWidth is the number of terminal cells r occupies.
func RuneWidth(r rune) int {
	if r == '\t' {
		return 1
	}
	if unicode.IsControl(r) || unicode.Is(unicode.Mn, r) {
		return 0
	}
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}

// DisplayWidth sums RuneWidth over s.
func DisplayWidth(s string) int {
	w := 0
	for _, r := range s {
		w += RuneWidth(r)
	}
	return w
}

// BubbleWidth is the widest a text row may get in a view of viewWidth cells.
func BubbleWidth(viewWidth int) int {
	w := int(float64(viewWidth) * bubbleRatio)
	if w < 1 {
		w = 1
	}
	return w
}

// Fit wraps text for a view of viewWidth cells. Text wider than three
// quarters of the view is clamped to four lines, the last one ending in an
// ellipsis when something was cut.
func Fit(text string, viewWidth int) []string {
	maxW := BubbleWidth(viewWidth)
	lines := wrap(text, maxW)
	if float64(DisplayWidth(text)) <= float64(viewWidth)*clampRatio || len(lines) <= clampLines {
		return lines
	}
	lines = lines[:clampLines]
	last := lines[clampLines-1]
	for DisplayWidth(last)+DisplayWidth(ellipsis) > maxW && last != "" {
		rs := []rune(last)
		last = string(rs[:len(rs)-1])
	}
	lines[clampLines-1] = strings.TrimRight(last, " ") + ellipsis
	return lines
}

func wrap(text string, maxW int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		lines = append(lines, wrapParagraph(para, maxW)...)
	}
	return lines
}

func wrapParagraph(para string, maxW int) []string {
	words := strings.Fields(para)
	if len(words) == 0 {
		return []string{""}
	}
	var (
		lines []string
		cur   strings.Builder
		curW  int
	)
	flush := func() {
		lines = append(lines, cur.String())
		cur.Reset()
		curW = 0
	}
	for _, word := range words {
		ww := DisplayWidth(word)
		if curW > 0 && curW+1+ww <= maxW {
			cur.WriteByte(' ')
			cur.WriteString(word)
			curW += 1 + ww
			continue
		}
		if curW > 0 {
			flush()
		}
		if ww <= maxW {
			cur.WriteString(word)
			curW = ww
			continue
		}
		// break an over-long word at cell boundaries
		for _, r := range word {
			rw := RuneWidth(r)
			if curW+rw > maxW && curW > 0 {
				flush()
			}
			cur.WriteRune(r)
			curW += rw
		}
	}
	if curW > 0 || cur.Len() > 0 {
		flush()
	}
	return lines
}

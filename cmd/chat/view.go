package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"chatline/internal/adapter"
	"chatline/internal/imageload"
	"chatline/internal/screen"
)

// tail is how many rows a redraw shows.
const tail = 20

type view struct {
	mu     sync.Mutex
	out    io.Writer
	width  int
	screen *screen.Screen
}

func newView(out io.Writer, width int) *view {
	return &view{out: out, width: width}
}

func (v *view) notice(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format+"\n", args...)
}

// redraw prints the end of the list, scrolled to the newest message.
func (v *view) redraw() {
	if v.screen == nil {
		return
	}
	list := v.screen.List()
	if list == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	n := list.Len()
	fmt.Fprintln(v.out, strings.Repeat("─", v.width))
	for i := max(0, n-tail); i < n; i++ {
		r, ok := list.Render(i, v.width)
		if !ok {
			continue
		}
		for _, line := range v.format(i, r) {
			fmt.Fprintln(v.out, line)
		}
	}
}

func (v *view) format(i int, r adapter.Rendered) []string {
	var body []string
	if r.ImageURL != "" {
		body = []string{v.imageLabel(r)}
	} else {
		body = append(body, r.Lines...)
		if len(body) > 0 && r.Time != "" {
			body[len(body)-1] += "  " + r.Time
		}
	}
	avatar := "(" + avatarLabel(r.Avatar) + ")"
	out := make([]string, len(body))
	for j, line := range body {
		prefix := fmt.Sprintf("%3d ", i)
		if j > 0 {
			prefix = "    "
		}
		if r.Own {
			pad := v.width - len(prefix) - adapter.DisplayWidth(line) - adapter.DisplayWidth(avatar) - 1
			out[j] = prefix + strings.Repeat(" ", max(pad, 1)) + line + " " + avatar
		} else {
			out[j] = prefix + avatar + " " + line
		}
	}
	return out
}

func (v *view) imageLabel(r adapter.Rendered) string {
	switch r.ImageStatus {
	case imageload.Failed:
		return "[image unavailable]"
	case imageload.Ready:
		if v.screen == nil {
			break
		}
		if images := v.screen.Images(); images != nil {
			if data, ok := images.Get(r.ImageURL); ok {
				return fmt.Sprintf("[image %s]", humanize.Bytes(uint64(len(data))))
			}
		}
	}
	return fmt.Sprintf("[image %s]", r.ImageStatus)
}

// avatarLabel shortens an avatar URL to its file name.
func avatarLabel(u string) string {
	if u == "" {
		return "?"
	}
	if i := strings.LastIndex(u, "/"); i >= 0 {
		u = u[i+1:]
	}
	return strings.TrimSuffix(u, ".jpg")
}

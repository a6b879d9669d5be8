package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	barWidth  = 30
	lineWidth = 100
)

var barStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))

// progressBar renders progress notifications for the active call as a
// single self-overwriting console line. Notifications for other tokens
// (stale calls, other clients on a shared session) are dropped.
type progressBar struct {
	out io.Writer

	mu     sync.Mutex
	token  string
	active bool
	drawn  bool
}

func newProgressBar(out io.Writer) *progressBar {
	return &progressBar{out: out}
}

// begin starts rendering notifications carrying the given token.
func (b *progressBar) begin(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.token = token
	b.active = true
	b.drawn = false
}

// finish stops rendering and terminates the bar line if one was drawn.
func (b *progressBar) finish() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = false
	if b.drawn {
		fmt.Fprintln(b.out)
	}
	b.drawn = false
}

// handleNotification is installed as the client's progress handler.
func (b *progressBar) handleNotification(_ context.Context, req *mcp.ProgressNotificationClientRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	token, ok := req.Params.ProgressToken.(string)
	if !ok || !b.active || token != b.token {
		return
	}

	total := req.Params.Total
	if total <= 0 {
		total = 1
	}

	fraction := req.Params.Progress / total
	if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction * barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("[%s] %3.0f%%", bar, fraction*100)
	if req.Params.Message != "" {
		line += " " + req.Params.Message
	}
	line = runewidth.Truncate(line, lineWidth, "…")

	// Pad to the full width so a shorter line fully overwrites a longer
	// previous one.
	fmt.Fprintf(b.out, "\r%s", barStyle.Render(runewidth.FillRight(line, lineWidth)))
	b.drawn = true
}

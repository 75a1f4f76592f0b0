package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var colorProfileOnce sync.Once

type palette struct {
	time, message, key, value, sep, block, channel lipgloss.Style
}

var styles = palette{
	time:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	message: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
	key:     lipgloss.NewStyle().Foreground(lipgloss.Color("117")),
	value:   lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
	sep:     lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	block:   lipgloss.NewStyle().MarginLeft(2).Foreground(lipgloss.Color("250")),
	channel: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
}

func shouldPrettyPrint() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	term := strings.TrimSpace(os.Getenv("TERM"))
	return term != "" && term != "dumb"
}

func ensureColorProfile() {
	colorProfileOnce.Do(func() {
		profile := termenv.NewOutput(os.Stderr).EnvColorProfile()
		if profile == termenv.Ascii {
			// TERM asked for color; stderr detection is unreliable under some multiplexers.
			profile = termenv.ANSI256
		}
		lipgloss.SetColorProfile(profile)
	})
}

func levelBadge(level slog.Level) string {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240")).Render("DEBUG")
	case level <= slog.LevelInfo:
		return base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31")).Render("INFO")
	case level <= slog.LevelWarn:
		return base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214")).Render("WARN")
	default:
		return base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160")).Render("ERROR")
	}
}

// formatEventPretty renders a colored header line followed by an indented
// field section. The channel field, when present, is pulled into the header.
func formatEventPretty(event Event) string {
	ensureColorProfile()
	header := []string{styles.time.Render(event.Time.Format("15:04:05.000")), " ", levelBadge(event.Level), " "}
	fields := event.Fields
	if channel, ok := fields["channel"].(string); ok && channel != "" {
		header = append(header, styles.channel.Render("["+channel+"]"), " ")
		fields = without(fields, "channel")
	}
	header = append(header, styles.message.Render(event.Message))

	out := lipgloss.JoinHorizontal(lipgloss.Center, header...) + "\n"
	if body := renderFields(fields); body != "" {
		out += body + "\n"
	}
	return out
}

func without(fields map[string]any, drop string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != drop {
			out[k] = v
		}
	}
	return out
}

func renderFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	var inline, blocks []string
	for _, key := range sortedKeys(fields) {
		if block, ok := jsonBlock(fields[key]); ok {
			blocks = append(blocks, styles.key.Render(key)+styles.sep.Render(":")+"\n"+styles.block.Render(block))
			continue
		}
		inline = append(inline, styles.key.Render(key)+styles.sep.Render("=")+styles.value.Render(inlineValue(fields[key])))
	}
	var lines []string
	if len(inline) > 0 {
		lines = append(lines, strings.Join(inline, " "))
	}
	lines = append(lines, blocks...)
	return lipgloss.NewStyle().MarginLeft(2).Render(strings.Join(lines, "\n"))
}

package heuristics

import (
	"regexp"
	"strings"

	"github.com/allaspectsdev/tokenpress/internal/block"
)

// LogTruncationMarker replaces each run of dropped log lines.
const LogTruncationMarker = "... [logs truncated] ..."

// logLevelRe detects log-like content.
var logLevelRe = regexp.MustCompile(`\b(INFO|DEBUG|ERROR|WARNING)\b`)

// logErrorRe marks lines worth keeping context around.
var logErrorRe = regexp.MustCompile(`ERROR|CRITICAL|Exception|Traceback|Failed|FATAL|panic`)

const (
	logMinTokens    = 500
	logContextLines = 30
	logTailLines    = 80
)

// trimLogs shrinks assistant blocks that look like pasted logs: lines around
// errors and the final lines survive, everything else is replaced by a
// truncation marker.
func (s *Stage) trimLogs(blocks []*block.Block, model string) {
	for _, b := range blocks {
		if b.Type != block.TypeAssistant || b.Tokens <= logMinTokens {
			continue
		}
		if trimmed, _ := b.Metadata["logs_trimmed"].(bool); trimmed {
			continue
		}
		if !strings.Contains(b.Content, "\n") || !logLevelRe.MatchString(b.Content) {
			continue
		}

		trimmed := trimLogText(b.Content)
		if trimmed == b.Content {
			continue
		}

		b.Content = trimmed
		b.Tokens = s.tok.CountTokens(model, trimmed)
		b.SetMeta("logs_trimmed", true)
	}
}

// trimLogText keeps logContextLines lines on each side of every error line
// plus the final logTailLines lines, separating kept ranges with the marker.
func trimLogText(content string) string {
	lines := strings.Split(content, "\n")
	n := len(lines)

	keep := make([]bool, n)
	for i, line := range lines {
		if !logErrorRe.MatchString(line) {
			continue
		}
		start := i - logContextLines
		if start < 0 {
			start = 0
		}
		end := i + logContextLines
		if end >= n {
			end = n - 1
		}
		for j := start; j <= end; j++ {
			keep[j] = true
		}
	}

	tailStart := n - logTailLines
	if tailStart < 0 {
		tailStart = 0
	}
	for i := tailStart; i < n; i++ {
		keep[i] = true
	}

	out := make([]string, 0, n)
	dropped := false
	for i := 0; i < n; i++ {
		if !keep[i] {
			dropped = true
			continue
		}
		if dropped {
			out = append(out, LogTruncationMarker)
			dropped = false
		}
		out = append(out, lines[i])
	}

	if len(out) == n {
		return content
	}
	return strings.Join(out, "\n")
}

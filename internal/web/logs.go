package web

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the most recent process log lines for /api/logs. It is an
// io.Writer meant to be teed next to stdout.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	entries []LogEntry
	partial []byte
	nextSeq uint64
	dropped uint64
}

// LogEntry is one complete log line. Level is parsed from slog text or JSON
// output and is empty when the line carries none.
type LogEntry struct {
	Seq   uint64 `json:"seq"`
	Level string `json:"level,omitempty"`
	Line  string `json:"line"`
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines, nextSeq: 1}
}

// Write implements io.Writer. Bytes after the last newline are held until
// the line completes.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data := append(b.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		b.appendLocked(string(bytes.TrimRight(data[:i], "\r")))
		data = data[i+1:]
	}
	b.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (b *LogBuffer) appendLocked(line string) {
	if line == "" {
		return
	}
	b.entries = append(b.entries, LogEntry{Seq: b.nextSeq, Level: lineLevel(line), Line: line})
	b.nextSeq++
	if over := len(b.entries) - b.max; over > 0 {
		b.entries = b.entries[over:]
		b.dropped += uint64(over)
	}
}

var levelRank = map[string]int{"DEBUG": 0, "INFO": 1, "WARN": 2, "ERROR": 3}

func lineLevel(line string) string {
	for _, prefix := range []string{"level=", `"level":"`} {
		i := strings.Index(line, prefix)
		if i < 0 {
			continue
		}
		rest := line[i+len(prefix):]
		if j := strings.IndexAny(rest, " \""); j >= 0 {
			rest = rest[:j]
		}
		if _, ok := levelRank[rest]; ok {
			return rest
		}
	}
	return ""
}

// LogQuery filters a Snapshot. Zero values mean no filter, except Tail which
// defaults to 200.
type LogQuery struct {
	Tail     int
	MinLevel string
	Since    uint64
}

// Snapshot returns up to q.Tail of the newest matching entries, oldest first.
func (b *LogBuffer) Snapshot(q LogQuery) (entries []LogEntry, dropped uint64) {
	if q.Tail <= 0 {
		q.Tail = 200
	}
	minRank, filterLevel := levelRank[strings.ToUpper(q.MinLevel)]

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.entries) - 1; i >= 0 && len(entries) < q.Tail; i-- {
		e := b.entries[i]
		if e.Seq <= q.Since {
			break
		}
		if filterLevel {
			if r, ok := levelRank[e.Level]; !ok || r < minRank {
				continue
			}
		}
		entries = append(entries, e)
	}
	for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
		entries[l], entries[r] = entries[r], entries[l]
	}
	return entries, b.dropped
}

type LogsResponse struct {
	NowUTC  string     `json:"now_utc"`
	Dropped uint64     `json:"dropped"`
	Entries []LogEntry `json:"entries"`
}

// Handler serves GET /api/logs?tail=N&level=warn&since=SEQ, as JSON or,
// with format=text, as plain lines.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		query := r.URL.Query()
		q := LogQuery{Tail: 200}
		if s := strings.TrimSpace(query.Get("tail")); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 1 || v > 5000 {
				http.Error(w, "tail must be an integer in [1,5000]", http.StatusBadRequest)
				return
			}
			q.Tail = v
		}
		if s := strings.TrimSpace(query.Get("since")); s != "" {
			v, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				http.Error(w, "since must be a log sequence number", http.StatusBadRequest)
				return
			}
			q.Since = v
		}
		if s := strings.TrimSpace(query.Get("level")); s != "" {
			if _, ok := levelRank[strings.ToUpper(s)]; !ok {
				http.Error(w, "level must be one of debug, info, warn, error", http.StatusBadRequest)
				return
			}
			q.MinLevel = s
		}

		entries, dropped := b.Snapshot(q)
		if strings.EqualFold(query.Get("format"), "text") {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			if dropped > 0 {
				_, _ = fmt.Fprintf(w, "[dropped=%d]\n", dropped)
			}
			for _, e := range entries {
				_, _ = fmt.Fprintln(w, e.Line)
			}
			return
		}

		if entries == nil {
			entries = []LogEntry{}
		}
		writeJSON(w, http.StatusOK, LogsResponse{
			NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
			Dropped: dropped,
			Entries: entries,
		})
	})
}

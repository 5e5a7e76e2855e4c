package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func lines(entries []LogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Line)
	}
	return out
}

func TestLogBuffer_JoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("level=INFO msg=\"pinger "))
	_, _ = b.Write([]byte("ready\"\r\nlevel=WARN msg=skip\nlevel=DEB"))

	entries, dropped := b.Snapshot(LogQuery{})
	if dropped != 0 {
		t.Fatalf("dropped=%d", dropped)
	}
	if len(entries) != 2 || entries[0].Line != "level=INFO msg=\"pinger ready\"" {
		t.Fatalf("entries=%+v", entries)
	}
	if entries[0].Level != "INFO" || entries[1].Level != "WARN" || entries[1].Seq != 2 {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestLogBuffer_DropsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		_, _ = fmt.Fprintf(b, "line %d\n", i)
	}
	entries, dropped := b.Snapshot(LogQuery{Tail: 10})
	if dropped != 2 {
		t.Fatalf("dropped=%d want 2", dropped)
	}
	if got := fmt.Sprint(lines(entries)); got != "[line 2 line 3 line 4]" {
		t.Fatalf("lines=%s", got)
	}
	if entries[0].Seq != 3 {
		t.Fatalf("seq=%d want 3", entries[0].Seq)
	}
}

func TestLogBuffer_Filters(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("level=DEBUG msg=a\n{\"level\":\"WARN\",\"msg\":\"b\"}\nlevel=INFO msg=c\nlevel=ERROR msg=d\nplain\n"))

	warn, _ := b.Snapshot(LogQuery{MinLevel: "warn"})
	if got := fmt.Sprint(lines(warn)); got != `[{"level":"WARN","msg":"b"} level=ERROR msg=d]` {
		t.Fatalf("warn+=%s", got)
	}

	since, _ := b.Snapshot(LogQuery{Since: 3})
	if len(since) != 2 || since[0].Seq != 4 || since[1].Level != "" {
		t.Fatalf("since=%+v", since)
	}
}

func TestLogBuffer_Handler(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("a\nb\nc\n"))
	ts := httptest.NewServer(Handler(Deps{Logs: b}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=2")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer resp.Body.Close()
	var out LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if got := fmt.Sprint(lines(out.Entries)); got != "[b c]" {
		t.Fatalf("lines=%s", got)
	}

	text, err := http.Get(ts.URL + "/api/logs?format=text&since=2")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	defer text.Body.Close()
	body, _ := io.ReadAll(text.Body)
	if string(body) != "c\n" {
		t.Fatalf("text=%q", body)
	}

	for _, q := range []string{"tail=0", "since=x", "level=loud"} {
		bad, err := http.Get(ts.URL + "/api/logs?" + q)
		if err != nil {
			t.Fatalf("get logs: %v", err)
		}
		bad.Body.Close()
		if bad.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status code=%d want 400", q, bad.StatusCode)
		}
	}
}

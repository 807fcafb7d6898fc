package logging_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/infinite-scroll/internal/testutil"
	"github.com/Sternrassler/infinite-scroll/pkg/logging"
	"github.com/Sternrassler/infinite-scroll/pkg/session"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"github.com/rs/zerolog"
)

// decodeLines returns every JSON log line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", sc.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func TestSetup_SessionStructuredFields(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	buf := &bytes.Buffer{}
	logging.Setup(logging.Config{Level: logging.LevelInfo, Output: buf})

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(testutil.CollectionPage("x", 1, 3, 4)))
	if err != nil {
		t.Fatal(err)
	}
	base, _ := url.Parse("https://shop.test/collections/x")
	fetch := session.FetcherFunc(func(context.Context, string) ([]byte, error) {
		return []byte(testutil.CollectionPage("x", 2, 3, 4)), nil
	})

	sess, err := session.New(doc, base, settings.Default(), fetch, session.Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sess.Close()

	if _, err := sess.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	raw := buf.String()
	var merged map[string]any
	for _, entry := range decodeLines(t, buf) {
		if entry["session_id"] != sess.ID() {
			t.Errorf("entry %q has session_id %v, want %s", entry["message"], entry["session_id"], sess.ID())
		}
		if entry["message"] == "Page merged" {
			merged = entry
		}
	}
	if merged == nil {
		t.Fatalf("no merge entry logged, got %q", raw)
	}

	if merged["component"] != "scroll-session" {
		t.Errorf("component = %v, want scroll-session", merged["component"])
	}
	if merged["level"] != "info" {
		t.Errorf("level = %v, want info", merged["level"])
	}
	if merged["page"] != float64(2) {
		t.Errorf("page = %v, want 2", merged["page"])
	}
	if merged["items"] != float64(4) {
		t.Errorf("items = %v, want 4", merged["items"])
	}
	if _, ok := merged["time"]; !ok {
		t.Error("merge entry has no timestamp")
	}
}

package report

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mynah-ai/mynah/pkg/types"
)

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line %q: %v", sc.Text(), err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan report: %v", err)
	}
	return recs
}

func TestWriter_AppendsOneLinePerRecord(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "turns.jsonl")
	w, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	w.Append(Record{SessionID: "s1", AgentID: "concierge", Outcome: "completed", AgentResponseDelayMs: 420})
	w.Append(Record{SessionID: "s1", AgentID: "concierge", Outcome: "interrupted", Interrupted: true})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs := readRecords(t, path)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].Outcome != "completed" || recs[0].AgentResponseDelayMs != 420 {
		t.Errorf("first record = %+v", recs[0])
	}
	if !recs[1].Interrupted {
		t.Errorf("second record = %+v", recs[1])
	}
	if recs[0].Time.IsZero() {
		t.Error("record time was not stamped")
	}
}

func TestWriter_AppendsAcrossReopens(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "turns.jsonl")

	for _, outcome := range []string{"completed", "error"} {
		w, err := Open(path, nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		w.Append(Record{SessionID: "s1", Outcome: outcome})
		if err := w.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	recs := readRecords(t, path)
	if len(recs) != 2 || recs[1].Outcome != "error" {
		t.Errorf("records = %+v", recs)
	}
}

func TestWriter_TurnHook(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "turns.jsonl")
	w, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	hook := w.TurnHook("s42", "concierge")
	hook("interrupted", types.TurnTelemetry{AgentResponseDelay: 300 * time.Millisecond})
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	recs := readRecords(t, path)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.SessionID != "s42" || rec.AgentID != "concierge" || !rec.Interrupted || rec.AgentResponseDelayMs != 300 {
		t.Errorf("record = %+v", rec)
	}
}

func TestWriter_AppendAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "turns.jsonl")
	w, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	w.Append(Record{SessionID: "s1", Outcome: "completed"})

	if recs := readRecords(t, path); len(recs) != 0 {
		t.Errorf("records = %+v, want none", recs)
	}
}

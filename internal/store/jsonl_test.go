package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestAppendJSONL_ScanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")
	type ev struct {
		N    int    `json:"n"`
		Note string `json:"note"`
	}
	for i := 1; i <= 3; i++ {
		if err := AppendJSONL(path, ev{N: i, Note: "<&>"}); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	var got []ev
	err := ScanJSONL(path, func(line []byte) error {
		var e ev
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("ScanJSONL: %v", err)
	}
	if len(got) != 3 || got[0].N != 1 || got[2].N != 3 || got[1].Note != "<&>" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestScanJSONL_MissingFileIsEmpty(t *testing.T) {
	calls := 0
	err := ScanJSONL(filepath.Join(t.TempDir(), "nope.jsonl"), func([]byte) error {
		calls++
		return nil
	})
	if err != nil || calls != 0 {
		t.Fatalf("expected no lines and no error, got calls=%d err=%v", calls, err)
	}
}

package docindex

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestManifestRoundTrip(t *testing.T) {
	t.Parallel()
	idx, err := Build(fstest.MapFS{
		"go/intro.md":       {Data: []byte("a")},
		"go/concurrency.md": {Data: []byte("b")},
		"rust/ownership.md": {Data: []byte("c")},
	})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if err := WriteManifest(&buf, idx, now); err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
	if !strings.Contains(buf.String(), "generated: 2026-10-19T12:00:00Z") {
		t.Errorf("manifest missing timestamp:\n%s", buf.String())
	}
	got, err := ReadManifest(&buf)
	if err != nil {
		t.Fatalf("ReadManifest() error = %v", err)
	}
	if !reflect.DeepEqual(got.Folders(), idx.Folders()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got.Folders(), idx.Folders())
	}
	if p, ok := got.Lookup("go", "intro"); !ok || p != "go/intro.md" {
		t.Errorf("Lookup(go, intro) = %q, %v", p, ok)
	}
}

func TestReadManifest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		wantLen int
		wantErr bool
	}{
		{"empty", "", 0, false},
		{"no folders", "generated: 2026-01-01T00:00:00Z\nfolders: []\n", 0, false},
		{
			"valid",
			"folders:\n  - name: go\n    entries:\n      - name: intro\n        path: go/intro.md\n",
			1, false,
		},
		{"missing folder name", "folders:\n  - entries: []\n", 0, true},
		{
			"missing entry path",
			"folders:\n  - name: go\n    entries:\n      - name: intro\n",
			0, true,
		},
		{"malformed", "folders: [", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := ReadManifest(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadManifest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && idx.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", idx.Len(), tt.wantLen)
			}
		})
	}
}

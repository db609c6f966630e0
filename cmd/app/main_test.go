package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseVersions(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"0", []int{0}, false},
		{"0,1", []int{0, 1}, false},
		{" 2 , 3 ,", []int{2, 3}, false},
		{"", nil, true},
		{"a", nil, true},
	}
	for _, tt := range tests {
		got, err := parseVersions(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersions(%q) error = %v", tt.in, err)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseVersions(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("parseVersions(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}

func TestPostTweetCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	data := "app:\n  log_level: error\nsqlite:\n  path: " + filepath.Join(dir, "c.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := newCommand(&out)
	if err := cmd.Run(context.Background(), []string{"compendium", "--config", cfgPath, "post-tweet"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no card eligible") {
		t.Errorf("output = %q", out.String())
	}
}

package cmd

import (
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	old := version
	defer func() { version = old }()

	for _, v := range []string{"dev", "1.4.0", "abc123f"} {
		version = v
		out, err := execute(t, "version")
		if err != nil {
			t.Fatalf("version %s: %v", v, err)
		}
		if got, want := strings.TrimSpace(out), "codereviewer "+v; got != want {
			t.Errorf("output = %q, want %q", got, want)
		}
	}
}

package cmd

import (
	"os"
	"testing"
)

func TestParseRepoArg(t *testing.T) {
	tests := []struct {
		input     string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"acme/api", "acme", "api", false},
		{"my-org/my.repo", "my-org", "my.repo", false},
		{"acme", "", "", true},
		{"/api", "", "", true},
		{"acme/", "", "", true},
		{"acme/api/extra", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			owner, repo, err := parseRepoArg(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRepoArg(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("parseRepoArg(%q) = %q, %q, want %q, %q", tt.input, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}

func TestParsePRNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"42", 42, false},
		{"#7", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parsePRNumber(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePRNumber(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parsePRNumber(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/.codereviewer/db", home + "/.codereviewer/db"},
		{"~", home},
		{"/var/lib/db", "/var/lib/db"},
		{":memory:", ":memory:"},
		{"~other/db", "~other/db"},
	}
	for _, tt := range tests {
		if got := expandHome(tt.input); got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

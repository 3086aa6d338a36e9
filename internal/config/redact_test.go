package config

import (
	"bytes"
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	pat := "ghp_" + strings.Repeat("a1B2", 9)
	fine := "github_pat_" + strings.Repeat("x", 30)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"classic token", "token " + pat, "token " + Redacted},
		{"fine-grained token", "using " + fine + " now", "using " + Redacted + " now"},
		{"bearer header", "Authorization: Bearer abcdefgh12345", "Authorization: Bearer " + Redacted},
		{"query parameter", "GET /x?access_token=s3cr3t&page=2", "GET /x?access_token=" + Redacted + "&page=2"},
		{"nothing sensitive", "installed sui testnet-v1.39.3", "installed sui testnet-v1.39.3"},
		{"short word after token", "token ok", "token ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.in); got != tt.want {
				t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriterLogger_Redacts(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, true)
	secret := "ghs_" + strings.Repeat("Z", 36)
	l.Debug("request", "auth", "Bearer "+secret)
	if strings.Contains(buf.String(), secret) {
		t.Errorf("token leaked into log: %q", buf.String())
	}
}

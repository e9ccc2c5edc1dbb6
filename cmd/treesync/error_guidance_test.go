package main

import (
	"fmt"
	"net"
	"testing"

	"treesync/internal/api"
	"treesync/internal/models"
)

func TestFormatCLIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "network",
			err:  &net.DNSError{Err: "dial tcp: connection refused", Name: "127.0.0.1", IsTemporary: true},
			want: "hint: ensure a treesync server is running at TREESYNC_API_URL.",
		},
		{
			name: "unknown service",
			err:  &api.APIError{Status: 404, Message: "api error: 404 Not Found"},
			want: "hint: verify TREESYNC_API_URL points to a treesync server.",
		},
		{
			name: "auth",
			err:  &api.APIError{Status: 401, Code: "unauthorized", Message: "unauthorized"},
			want: "hint: verify TREESYNC_API_TOKEN matches the server's api_token_hash.",
		},
		{
			name: "internal",
			err:  &api.APIError{Status: 500, Code: "internal", Message: "internal error"},
			want: "hint: server returned an internal error; check server logs for details.",
		},
		{
			name: "remote transfer failure",
			err:  &api.APIError{Status: 500, Code: "transfer_failed", Message: "transfer doc1 failed"},
			want: "hint: no target records were written; rerun migrate once the blob backend is reachable.",
		},
		{
			name: "local not found",
			err:  fmt.Errorf("project p9: %w", models.ErrNotFound),
			want: "hint: check the --project id against the source tree.",
		},
		{
			name: "local transfer failure",
			err:  models.TransferFailed("doc1", fmt.Errorf("boom")),
			want: "hint: no target records were written; rerun migrate once the blob backend is reachable.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := formatCLIError(tt.err)
			if lines[0] != tt.err.Error() {
				t.Fatalf("expected error first, got %v", lines)
			}
			if !containsLine(lines, tt.want) {
				t.Fatalf("expected %q in %v", tt.want, lines)
			}
		})
	}
}

func containsLine(lines []string, expected string) bool {
	for _, line := range lines {
		if line == expected {
			return true
		}
	}
	return false
}

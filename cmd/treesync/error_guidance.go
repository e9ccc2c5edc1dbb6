package main

import (
	"context"
	"errors"
	"net"

	"treesync/internal/api"
	"treesync/internal/models"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized", "forbidden":
			lines = append(lines, "hint: verify TREESYNC_API_TOKEN matches the server's api_token_hash.")
		case "resource_exhausted":
			lines = append(lines, "hint: another migrate or verify run is in progress; retry when it finishes.")
		case "transfer_failed":
			lines = append(lines, "hint: no target records were written; rerun migrate once the blob backend is reachable.")
		case "not_found":
			lines = append(lines, "hint: check the --project id against the source tree.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify TREESYNC_API_URL points to a treesync server.")
		}
		if apiErr.Status == 500 && apiErr.Code == "internal" {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	switch {
	case errors.Is(err, models.ErrNotFound):
		lines = append(lines, "hint: check the --project id against the source tree.")
		return uniqueLines(lines)
	case errors.Is(err, models.ErrTransferFailed):
		lines = append(lines, "hint: no target records were written; rerun migrate once the blob backend is reachable.")
		return uniqueLines(lines)
	case errors.Is(err, models.ErrStore):
		lines = append(lines, "hint: check the records/blobs backend settings with: treesync config get <key>")
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase TREESYNC_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a treesync server is running at TREESYNC_API_URL.",
			"hint: start one with: treesync srv",
			"hint: or drop --remote to run locally.",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

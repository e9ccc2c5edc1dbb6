package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"treesync/internal/api"
	"treesync/internal/format"
	"treesync/internal/migrate"
	"treesync/internal/models"
)

func formatterFor(output *outputOptions) format.Formatter {
	if output != nil && output.yaml {
		return format.YAMLFormatter{}
	}
	return format.JSONFormatter{}
}

func writeStructured(w io.Writer, output *outputOptions, payload any) error {
	return formatterFor(output).Write(w, payload)
}

func writePlain(w io.Writer, tmpl string, args ...any) error {
	_, err := fmt.Fprintf(w, tmpl, args...)
	return err
}

func writeLines(w io.Writer, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	return writePlain(w, "%s\n", strings.Join(lines, "\n"))
}

func writeMigrateResponse(w io.Writer, output *outputOptions, resp api.MigrateResponse) error {
	if output.structured() {
		return writeStructured(w, output, resp)
	}
	if err := writeReport(w, output, resp.Report); err != nil {
		return err
	}
	return writePlain(w, "%s\n", resp.Message)
}

func writeReport(w io.Writer, output *outputOptions, report *migrate.Report) error {
	if report == nil {
		return nil
	}
	if output.structured() {
		return writeStructured(w, output, report)
	}
	lines := []string{
		fmt.Sprintf("run_id: %s", report.RunID),
		fmt.Sprintf("scope: %s", report.Scope),
		fmt.Sprintf("manifest: %d blobs", report.ManifestSize),
		fmt.Sprintf("transferred: %d", report.Transferred),
		fmt.Sprintf("reused: %d", report.Reused),
		fmt.Sprintf("failed: %d", report.Failed),
		fmt.Sprintf("records written: %d", len(report.Written)),
		fmt.Sprintf("duration: %s", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)),
	}
	for _, entry := range report.Entries {
		if entry.Status == migrate.StatusFailed {
			lines = append(lines, fmt.Sprintf("  failed %s: %s", entry.SourceKey, entry.Error))
		}
	}
	lines = append(lines, gapLines(report.Gaps)...)
	return writeLines(w, lines)
}

func writeVerifyResponse(w io.Writer, output *outputOptions, resp api.VerifyResponse) error {
	if output.structured() {
		return writeStructured(w, output, resp)
	}
	var lines []string
	for _, d := range resp.StorageDiscrepancies {
		lines = append(lines, fmt.Sprintf("blob %s: %s -> %s", d.Key, d.Reason, d.Action))
	}
	for _, d := range resp.DatabaseDiscrepancies {
		line := fmt.Sprintf("record %s: %s -> %s", d.Key, d.Reason, d.Action)
		if d.Detail != "" {
			line += " (" + d.Detail + ")"
		}
		lines = append(lines, line)
	}
	for _, o := range resp.Orphans {
		lines = append(lines, fmt.Sprintf("orphan %s: %s", o.Side, o.Key))
	}
	lines = append(lines, gapLines(resp.Gaps)...)
	lines = append(lines, resp.Message)
	return writeLines(w, lines)
}

func writeManifestResponse(w io.Writer, output *outputOptions, resp api.ManifestResponse) error {
	if output.structured() {
		return writeStructured(w, output, resp)
	}
	lines := make([]string, 0, len(resp.Entries)+len(resp.Records)+len(resp.Gaps)+2)
	lines = append(lines, fmt.Sprintf("scope: %s", resp.Scope))
	for _, entry := range resp.Entries {
		lines = append(lines, fmt.Sprintf("blob %s -> %s (%d owners)", entry.SourceKey, entry.TargetKey, len(entry.Owners)))
	}
	for _, record := range resp.Records {
		lines = append(lines, fmt.Sprintf("record %s", record))
	}
	lines = append(lines, gapLines(resp.Gaps)...)
	return writeLines(w, lines)
}

func gapLines(gaps []models.Gap) []string {
	lines := make([]string, 0, len(gaps))
	for _, gap := range gaps {
		line := fmt.Sprintf("gap %s at %s", gap.Kind, gap.Path)
		if gap.Ref != "" {
			line += ": " + gap.Ref
		}
		lines = append(lines, line)
	}
	return lines
}

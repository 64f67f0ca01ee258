package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JonMunkholm/lims/internal/core"
	"github.com/fatih/color"
)

var (
	green  = color.New(color.FgHiGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

func setColor(disabled bool) {
	if disabled {
		color.NoColor = true
	}
}

// maxPrintedErrors caps the row errors printed to a terminal.
const maxPrintedErrors = 20

// colorizeStatus formats an import status with semantic color.
func colorizeStatus(status string) string {
	upper := strings.ToUpper(status)
	switch status {
	case core.StatusCompleted:
		return green.Sprint(upper)
	case core.StatusRejected:
		return yellow.Sprint(upper)
	case core.StatusFailed, core.StatusAborted:
		return red.Sprint(upper)
	default:
		return upper
	}
}

// printImportResult renders an import summary.
func printImportResult(w io.Writer, r *core.ImportResult) {
	fmt.Fprintf(w, "%s %s  %s (%s mode)\n", bold.Sprint("Import"), r.ImportID, colorizeStatus(r.Status), r.Mode)
	fmt.Fprintf(w, "  File:       %s -> %s\n", r.FileName, r.Entity)
	fmt.Fprintf(w, "  Rows:       %d\n", r.TotalRows)
	fmt.Fprintf(w, "  Created:    %s\n", green.Sprint(r.Created))
	fmt.Fprintf(w, "  Updated:    %d\n", r.Updated)
	fmt.Fprintf(w, "  Skipped:    %d duplicates\n", r.DuplicatesSkipped)
	if r.Failed > 0 {
		fmt.Fprintf(w, "  Failed:     %s (%.0f%%)\n", red.Sprint(r.Failed), r.FailureRate()*100)
	} else {
		fmt.Fprintf(w, "  Failed:     0\n")
	}
	if r.NotAttempted > 0 {
		fmt.Fprintf(w, "  Not tried:  %d\n", r.NotAttempted)
	}
	if r.RolledBack {
		fmt.Fprintln(w, red.Sprint("  The failing batch was rolled back."))
	}
	if r.AbortReason != "" {
		fmt.Fprintf(w, "  Stopped:    %s\n", r.AbortReason)
	}
	if n := len(r.Assigned); n > 0 {
		first, last := r.Assigned[0].Number, r.Assigned[n-1].Number
		fmt.Fprintf(w, "  Numbers:    %s\n", cyan.Sprintf("%d..%d", first, last))
	}

	printMapping(w, r.Mapping)
	printWarnings(w, r.Warnings)
	printRowErrors(w, r.Errors, r.TotalErrors)
}

// printPreview renders a preview result.
func printPreview(w io.Writer, p *core.PreviewResult) {
	fmt.Fprintf(w, "%s %s -> %s (%s mode)\n", bold.Sprint("Preview"), p.FileName, p.Entity, p.Mode)
	s := p.Summary
	fmt.Fprintf(w, "  Rows:       %d (%d analyzed)\n", s.TotalRows, s.AnalyzedRows)
	fmt.Fprintf(w, "  Valid:      %s\n", green.Sprint(s.ValidRows))
	if s.ErrorRows > 0 {
		fmt.Fprintf(w, "  Invalid:    %s\n", red.Sprint(s.ErrorRows))
	}
	fmt.Fprintf(w, "  New:        %d\n", s.NewRows)
	fmt.Fprintf(w, "  Existing:   %d\n", s.ExistingRows)
	if s.InFileDuplicates > 0 {
		fmt.Fprintf(w, "  Repeated:   %d rows repeat an earlier row\n", s.InFileDuplicates)
	}
	fmt.Fprintf(w, "  Next:       %s\n", cyan.Sprint(p.NextNumber))

	if len(p.References) > 0 {
		fields := make([]string, 0, len(p.References))
		for f := range p.References {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			c := p.References[f]
			fmt.Fprintf(w, "  %-11s %d resolved, %d unresolved\n", f+":", c.Resolved, c.Unresolved)
		}
	}

	if p.WouldReject {
		fmt.Fprintln(w, yellow.Sprint("  Existing rows found: import with --skip-duplicates or --update-duplicates."))
		for _, k := range p.ExistingKeys {
			fmt.Fprintf(w, "    %s\n", k)
		}
	}

	printMapping(w, p.Mapping)
	printWarnings(w, p.Warnings)
	printRowErrors(w, p.Errors, len(p.Errors))
}

func printMapping(w io.Writer, m core.MappingFeedback) {
	if len(m.Unmatched) > 0 {
		fmt.Fprintf(w, "  Ignored columns: %s\n", strings.Join(m.Unmatched, ", "))
	}
	if len(m.Unsupported) > 0 {
		fmt.Fprintf(w, "  Not stored:      %s\n", strings.Join(m.Unsupported, ", "))
	}
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "  %s %s\n", yellow.Sprint("warning:"), warn)
	}
}

func printRowErrors(w io.Writer, errs []core.RowError, total int) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, bold.Sprint("Row errors:"))
	for i, e := range errs {
		if i == maxPrintedErrors {
			break
		}
		field := ""
		if e.Field != "" {
			field = e.Field + ": "
		}
		fmt.Fprintf(w, "  line %-6d %s%s %s\n", e.Line, field, e.Message, color.New(color.Faint).Sprintf("[%s]", e.Code))
	}
	if total > maxPrintedErrors {
		fmt.Fprintf(w, "  ... %d more\n", total-maxPrintedErrors)
	}
}

// printError renders a failure with its support code and suggested action.
func printError(w io.Writer, err error) {
	msg := core.MapError(err)
	fmt.Fprintf(w, "%s %s\n", red.Sprint("error:"), err)
	if msg.Code != "" {
		fmt.Fprintf(w, "  %s (code %s)\n", msg.Action, msg.Code)
	}
}

/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconciler

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"chainguard.dev/reviewflow/review"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// RenderSummary renders the per-thread audit table and run totals for a
// finished (or aborted) lifecycle, in markdown.
func RenderSummary(st *review.PullRequestState, s review.Summary) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "## %s (%s)\n\n", st.PR.Key(), s.Outcome)

	ids := make([]string, 0, len(st.Threads))
	for id := range st.Threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		table := summaryTable([]string{"Thread", "File", "Severity", "Decision", "Status", "Commit"}, &buf)
		for _, id := range ids {
			t := st.Threads[id]
			_ = table.Append([]string{
				t.ID,
				fmt.Sprintf("%s:%d", t.File, t.StartLine),
				string(t.Severity),
				string(t.Decision),
				string(t.Status),
				shortRef(t.CommitRef),
			})
		}
		_ = table.Render()
		buf.WriteString("\n")
	}

	fmt.Fprintf(&buf, "%d fixed, %d ignored, %d escalated, %d resolved in %d cycles (%d retries, %s)\n",
		s.Fixed, s.Ignored, s.Escalated, s.Resolved, s.Cycles, s.Retries, s.Elapsed.Round(time.Second))
	if st.AbortCause != "" {
		fmt.Fprintf(&buf, "\nAbort cause: %s\n", st.AbortCause)
	}
	return buf.String()
}

// summaryTable creates a table writer with the formatting shared by all
// rendered reports.
func summaryTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 120,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func shortRef(ref string) string {
	if len(ref) > 10 {
		return ref[:10]
	}
	if ref == "" {
		return "-"
	}
	return ref
}

package snapshot

import (
	"fmt"
	"strings"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// renderMarkdown produces a one-way human-readable rendering.
func renderMarkdown(snap *apptype.Snapshot) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", snap.Metadata.ProjectName)
	if snap.Metadata.ProjectDescription != "" {
		fmt.Fprintf(&b, "%s\n\n", snap.Metadata.ProjectDescription)
	}
	fmt.Fprintf(&b, "Exported %s: %d files, %d CoT items, %d candidates.\n\n",
		snap.Metadata.ExportTimestamp.Format("2006-01-02 15:04:05"),
		snap.Metadata.TotalFiles, snap.Metadata.TotalCotItems, snap.Metadata.TotalCandidates)

	for i, item := range snap.CotItems {
		fmt.Fprintf(&b, "## %d. %s\n\n", i+1, item.Question)
		fmt.Fprintf(&b, "- status: `%s`, source: `%s`\n", item.Status, item.Source)
		if item.FileName != "" {
			fmt.Fprintf(&b, "- file: `%s`\n", item.FileName)
		}
		b.WriteString("\n")
		if item.ChainOfThought != "" {
			fmt.Fprintf(&b, "**Reasoning**\n\n%s\n\n", item.ChainOfThought)
		}
		for _, c := range item.Candidates {
			marker := ""
			if c.Chosen {
				marker = " ✓"
			}
			fmt.Fprintf(&b, "### Candidate %d%s (score %.2f)\n\n%s\n\n", c.Rank, marker, c.Score, c.Text)
			if c.ChainOfThought != "" {
				fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(c.ChainOfThought, "\n", "\n> "))
			}
		}
	}

	if len(snap.FilesInfo) > 0 {
		b.WriteString("## Files\n\n")
		b.WriteString("| filename | size | mime type | hash |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, f := range snap.FilesInfo {
			fmt.Fprintf(&b, "| %s | %d | %s | `%s` |\n", f.Filename, f.Size, f.MimeType, f.FileHash)
		}
		b.WriteString("\n")
	}

	return []byte(b.String())
}

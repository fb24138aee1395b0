package snapshot

import (
	"fmt"
	"strings"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// renderText produces a one-way plain text rendering.
func renderText(snap *apptype.Snapshot) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "Project: %s\n", snap.Metadata.ProjectName)
	if snap.Metadata.ProjectDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", snap.Metadata.ProjectDescription)
	}
	fmt.Fprintf(&b, "Exported: %s\n", snap.Metadata.ExportTimestamp.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Files: %d, CoT items: %d, candidates: %d\n",
		snap.Metadata.TotalFiles, snap.Metadata.TotalCotItems, snap.Metadata.TotalCandidates)
	b.WriteString(strings.Repeat("=", 60) + "\n")

	for i, item := range snap.CotItems {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, item.Question)
		fmt.Fprintf(&b, "    status=%s source=%s\n", item.Status, item.Source)
		if item.ChainOfThought != "" {
			fmt.Fprintf(&b, "    reasoning: %s\n", item.ChainOfThought)
		}
		for _, c := range item.Candidates {
			marker := " "
			if c.Chosen {
				marker = "*"
			}
			fmt.Fprintf(&b, "  %s candidate %d (%.2f): %s\n", marker, c.Rank, c.Score, c.Text)
		}
	}

	return []byte(b.String())
}

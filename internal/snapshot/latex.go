package snapshot

import (
	"fmt"
	"strings"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// latexReplacer escapes the characters LaTeX treats specially. Backslash
// must be handled first to avoid re-escaping the replacements.
var latexReplacer = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`{`, `\{`,
	`}`, `\}`,
	`$`, `\$`,
	`&`, `\&`,
	`%`, `\%`,
	`#`, `\#`,
	`^`, `\textasciicircum{}`,
	`_`, `\_`,
	`~`, `\textasciitilde{}`,
)

func escapeLaTeX(s string) string {
	return latexReplacer.Replace(s)
}

// renderLaTeX produces a one-way standalone LaTeX document.
func renderLaTeX(snap *apptype.Snapshot) []byte {
	var b strings.Builder

	b.WriteString("\\documentclass{article}\n\\usepackage[utf8]{inputenc}\n\\begin{document}\n\n")
	fmt.Fprintf(&b, "\\title{%s}\n", escapeLaTeX(snap.Metadata.ProjectName))
	fmt.Fprintf(&b, "\\date{%s}\n\\maketitle\n\n", snap.Metadata.ExportTimestamp.Format("2006-01-02"))
	if snap.Metadata.ProjectDescription != "" {
		fmt.Fprintf(&b, "%s\n\n", escapeLaTeX(snap.Metadata.ProjectDescription))
	}

	for _, item := range snap.CotItems {
		fmt.Fprintf(&b, "\\section{%s}\n", escapeLaTeX(item.Question))
		fmt.Fprintf(&b, "\\textit{status: %s, source: %s}\n\n", escapeLaTeX(string(item.Status)), escapeLaTeX(string(item.Source)))
		if item.ChainOfThought != "" {
			fmt.Fprintf(&b, "\\subsection*{Reasoning}\n%s\n\n", escapeLaTeX(item.ChainOfThought))
		}
		for _, c := range item.Candidates {
			marker := ""
			if c.Chosen {
				marker = " (chosen)"
			}
			fmt.Fprintf(&b, "\\subsection*{Candidate %d%s, score %.2f}\n%s\n\n",
				c.Rank, marker, c.Score, escapeLaTeX(c.Text))
		}
	}

	b.WriteString("\\end{document}\n")
	return []byte(b.String())
}

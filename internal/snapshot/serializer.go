// Package snapshot converts project Snapshots to and from the on-disk
// exchange formats: a JSON document, human-readable Markdown/LaTeX/plain
// text renderings, and a ZIP package bundling the JSON with auxiliary
// members.
package snapshot

import (
	"strings"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// Format is a supported exchange format token.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatLaTeX    Format = "latex"
	FormatText     Format = "text"
	FormatZip      Format = "zip"
)

// ParseFormat validates a format token before any I/O happens.
func ParseFormat(token string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(token))); f {
	case FormatJSON, FormatMarkdown, FormatLaTeX, FormatText, FormatZip:
		return f, nil
	default:
		return "", apperr.Validation("format", "unsupported export format %q", token)
	}
}

// Serialize renders a Snapshot in the given format. Markdown, LaTeX and
// plain text are one-way renderings; only JSON and ZIP round-trip.
func Serialize(snap *apptype.Snapshot, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return MarshalJSON(snap)
	case FormatMarkdown:
		return renderMarkdown(snap), nil
	case FormatLaTeX:
		return renderLaTeX(snap), nil
	case FormatText:
		return renderText(snap), nil
	case FormatZip:
		return WriteZip(snap, true)
	default:
		return nil, apperr.Validation("format", "unsupported export format %q", format)
	}
}

// Deserialize reads a Snapshot from either a ZIP package or a bare JSON
// document, detected by the archive magic bytes. The warnings list is
// non-empty only for ZIP packages with missing optional members.
func Deserialize(data []byte) (*apptype.Snapshot, []string, error) {
	if len(data) >= 2 && data[0] == 'P' && data[1] == 'K' {
		return ReadZip(data)
	}
	snap, err := UnmarshalJSONDoc(data)
	return snap, nil, err
}

package snapshot

import (
	"encoding/json"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// MarshalJSON renders the canonical single-document form with top-level
// keys metadata, cot_items, files_info and kg_data. The round trip through
// UnmarshalJSONDoc is lossless for every modeled field.
func MarshalJSON(snap *apptype.Snapshot) ([]byte, error) {
	doc := *snap
	doc.Metadata.ExportFormat = string(FormatJSON)
	if doc.CotItems == nil {
		doc.CotItems = []apptype.CotExportItem{}
	}
	if doc.FilesInfo == nil {
		doc.FilesInfo = []apptype.FileInfo{}
	}
	return json.MarshalIndent(&doc, "", "  ")
}

// requiredKeys are the document members whose absence is a hard error.
// kg_data stays optional; it is nullable in the document form.
var requiredKeys = []string{"metadata", "cot_items", "files_info"}

// UnmarshalJSONDoc parses and validates a snapshot document. A parse
// failure or missing required key surfaces as a ValidationError before any
// other processing.
func UnmarshalJSONDoc(data []byte) (*apptype.Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperr.Validation("document", "malformed JSON: %v", err)
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			return nil, apperr.Validation(key, "required top-level key is missing")
		}
	}

	var snap apptype.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperr.Validation("document", "snapshot decode failed: %v", err)
	}
	if snap.CotItems == nil {
		snap.CotItems = []apptype.CotExportItem{}
	}
	if snap.FilesInfo == nil {
		snap.FilesInfo = []apptype.FileInfo{}
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return &snap, nil
}

package snapshot

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

// ZIP package member names.
const (
	zipMetadata = "metadata.json"
	zipData     = "data.json"
	zipMarkdown = "data.md"
	zipKG       = "knowledge_graph.json"
	zipFilesDir = "files/"
)

// WriteZip bundles a snapshot into the ZIP package layout: metadata.json
// and data.json are always present, data.md and knowledge_graph.json are
// optional, and each file manifest entry gets a files/<name>.info sidecar.
func WriteZip(snap *apptype.Snapshot, includeMarkdown bool) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	meta := snap.Metadata
	meta.ExportFormat = string(FormatZip)
	if err := writeZipJSON(zw, zipMetadata, &meta); err != nil {
		return nil, err
	}

	doc, err := MarshalJSON(snap)
	if err != nil {
		return nil, err
	}
	if err := writeZipMember(zw, zipData, doc); err != nil {
		return nil, err
	}

	if includeMarkdown {
		if err := writeZipMember(zw, zipMarkdown, renderMarkdown(snap)); err != nil {
			return nil, err
		}
	}
	if snap.KGData != nil {
		if err := writeZipJSON(zw, zipKG, snap.KGData); err != nil {
			return nil, err
		}
	}
	for _, f := range snap.FilesInfo {
		if err := writeZipJSON(zw, zipFilesDir+f.Filename+".info", &f); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize zip package: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipJSON(zw *zip.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return writeZipMember(zw, name, data)
}

func writeZipMember(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("failed to create zip member %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write zip member %s: %w", name, err)
	}
	return nil
}

// ReadZip parses a ZIP package. Missing metadata.json or data.json is a
// hard error; missing optional members are reported as warnings.
func ReadZip(data []byte) (*apptype.Snapshot, []string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, apperr.Validation("package", "not a readable zip archive: %v", err)
	}

	members := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		members[f.Name] = f
	}

	for _, required := range []string{zipMetadata, zipData} {
		if _, ok := members[required]; !ok {
			return nil, nil, apperr.Validation(required, "required package member is missing")
		}
	}

	doc, err := readZipMember(members[zipData])
	if err != nil {
		return nil, nil, err
	}
	snap, err := UnmarshalJSONDoc(doc)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if _, ok := members[zipMarkdown]; !ok {
		warnings = append(warnings, fmt.Sprintf("optional member %s missing", zipMarkdown))
	}
	if kgFile, ok := members[zipKG]; ok {
		if snap.KGData == nil {
			raw, rErr := readZipMember(kgFile)
			if rErr != nil {
				warnings = append(warnings, fmt.Sprintf("unreadable %s: %v", zipKG, rErr))
			} else {
				var kg apptype.KGData
				if jErr := json.Unmarshal(raw, &kg); jErr != nil {
					warnings = append(warnings, fmt.Sprintf("malformed %s: %v", zipKG, jErr))
				} else {
					snap.KGData = &kg
				}
			}
		}
	} else {
		warnings = append(warnings, fmt.Sprintf("optional member %s missing", zipKG))
	}

	return snap, warnings, nil
}

func readZipMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open zip member %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read zip member %s: %w", f.Name, err)
	}
	return data, nil
}

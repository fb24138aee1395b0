//go:build go1.18

package snapshot

import (
	"testing"
)

// FuzzDeserialize fuzzes the document parsers for stability.
func FuzzDeserialize(f *testing.F) {
	f.Add([]byte(`{"metadata": {"project_name": "p", "total_cot_items": 0}, "cot_items": []}`))
	f.Add([]byte(`{"metadata": null, "cot_items": null}`))
	f.Add([]byte(`PK`))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, b []byte) {
		// Malformed input must come back as an error, never a panic.
		_, _, _ = Deserialize(b)
		_, _ = UnmarshalJSONDoc(b)
	})
}

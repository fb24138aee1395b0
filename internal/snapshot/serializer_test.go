package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotstudio/cot-studio-go/internal/apperr"
	"github.com/cotstudio/cot-studio-go/internal/apptype"
)

func sampleSnapshot() *apptype.Snapshot {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &apptype.Snapshot{
		Metadata: apptype.SnapshotMetadata{
			ProjectName:        "demo project",
			ProjectDescription: "reconciliation fixture",
			ExportTimestamp:    created,
			TotalFiles:         1,
			TotalCotItems:      1,
			TotalCandidates:    2,
		},
		CotItems: []apptype.CotExportItem{
			{
				ID:             "item-1",
				Question:       "Why does the bridge resonate?",
				ChainOfThought: "Wind shedding vortices at the natural frequency.",
				Source:         apptype.SourceHumanAI,
				Status:         apptype.StatusReviewed,
				CreatedAt:      created,
				Candidates: []apptype.Candidate{
					{ID: "cand-1", Text: "Vortex shedding", Score: 0.9, Chosen: true, Rank: 1},
					{ID: "cand-2", Text: "Traffic load", Score: 0.3, Rank: 2},
				},
			},
		},
		FilesInfo: []apptype.FileInfo{
			{ID: "file-1", Filename: "bridge.pdf", Size: 1024, FileHash: "abc123", CreatedAt: created},
		},
		KGData: &apptype.KGData{
			Entities: []apptype.Entity{
				{ID: "ent-1", Name: "Tacoma Narrows", EntityType: "location", Confidence: 0.8},
			},
			Relations: []apptype.Relation{},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, token := range []string{"json", "markdown", "latex", "text", "zip"} {
		format, err := ParseFormat(token)
		require.NoError(t, err)
		assert.Equal(t, Format(token), format)
	}

	_, err := ParseFormat("pdf")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestJSONRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	data, err := MarshalJSON(snap)
	require.NoError(t, err)

	got, err := UnmarshalJSONDoc(data)
	require.NoError(t, err)

	assert.Equal(t, snap.Metadata.ProjectName, got.Metadata.ProjectName)
	assert.Equal(t, snap.Metadata.TotalCandidates, got.Metadata.TotalCandidates)
	require.Len(t, got.CotItems, 1)
	assert.Equal(t, snap.CotItems[0].Candidates, got.CotItems[0].Candidates)
	require.Len(t, got.FilesInfo, 1)
	assert.Equal(t, "abc123", got.FilesInfo[0].FileHash)
	require.NotNil(t, got.KGData)
	assert.Equal(t, "Tacoma Narrows", got.KGData.Entities[0].Name)

	again, err := MarshalJSON(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestUnmarshalJSONDocMissingRequiredKeys(t *testing.T) {
	_, err := UnmarshalJSONDoc([]byte(`{"metadata": {"project_name": "x", "total_cot_items": 0}}`))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "cot_items")

	_, err = UnmarshalJSONDoc([]byte(`{"cot_items": []}`))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "metadata")

	_, err = UnmarshalJSONDoc([]byte(`{"metadata": {"project_name": "x", "total_cot_items": 0}, "cot_items": []}`))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "files_info")
}

func TestUnmarshalJSONDocRejectsInvalidSnapshot(t *testing.T) {
	snap := sampleSnapshot()
	snap.Metadata.TotalCotItems = 7
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	_, err = UnmarshalJSONDoc(data)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestSerializeMarkdownAndText(t *testing.T) {
	snap := sampleSnapshot()

	md, err := Serialize(snap, FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# demo project")
	assert.Contains(t, string(md), "Vortex shedding")

	txt, err := Serialize(snap, FormatText)
	require.NoError(t, err)
	assert.Contains(t, string(txt), "demo project")
	assert.Contains(t, string(txt), "Why does the bridge resonate?")
}

func TestEscapeLaTeX(t *testing.T) {
	got := escapeLaTeX(`50% of $10 & a_b #1 {x} ~y ^z \cmd`)
	assert.Contains(t, got, `50\%`)
	assert.Contains(t, got, `\$10`)
	assert.Contains(t, got, `\&`)
	assert.Contains(t, got, `a\_b`)
	assert.Contains(t, got, `\#1`)
	assert.Contains(t, got, `\{x\}`)
	assert.Contains(t, got, `\textbackslash{}cmd`)
	assert.NotContains(t, got, `\\{`)
}

func TestSerializeLaTeXEscapesContent(t *testing.T) {
	snap := sampleSnapshot()
	snap.CotItems[0].Question = "What is 100% of $5?"

	out, err := Serialize(snap, FormatLaTeX)
	require.NoError(t, err)
	assert.Contains(t, string(out), `100\% of \$5`)
	assert.NotContains(t, string(out), "100% of $5?")
}

func TestZipRoundTrip(t *testing.T) {
	snap := sampleSnapshot()
	pkg, err := WriteZip(snap, true)
	require.NoError(t, err)

	got, warnings, err := ReadZip(pkg)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, snap.Metadata.ProjectName, got.Metadata.ProjectName)
	require.Len(t, got.CotItems, 1)
	require.NotNil(t, got.KGData)
}

func TestZipWarningsForOptionalMembers(t *testing.T) {
	snap := sampleSnapshot()
	snap.KGData = nil
	pkg, err := WriteZip(snap, false)
	require.NoError(t, err)

	got, warnings, err := ReadZip(pkg)
	require.NoError(t, err)
	assert.Nil(t, got.KGData)
	require.Len(t, warnings, 2)
	joined := strings.Join(warnings, "; ")
	assert.Contains(t, joined, "data.md")
	assert.Contains(t, joined, "knowledge_graph.json")
}

func TestReadZipMissingRequiredMember(t *testing.T) {
	_, _, err := ReadZip([]byte("not a zip archive"))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

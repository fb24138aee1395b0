package apptype

// ProjectArgs provides a standard way to pass project context to tools.
type ProjectArgs struct {
	ProjectID string `json:"projectId,omitempty" jsonschema:"The id of the project to operate on."`
}

// ExportProjectArgs represents the arguments for the export_project tool.
type ExportProjectArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs" jsonschema:"Project context for the operation."`
	Format      string      `json:"format" jsonschema:"Export format: json, markdown, latex, text, or zip."`
	IncludeKG   bool        `json:"includeKg,omitempty" jsonschema:"Include the knowledge-graph payload in the export."`
}

// ExportProjectResult carries the serialized document. ZIP output is base64.
type ExportProjectResult struct {
	Format   string `json:"format"`
	Document string `json:"document"`
	Encoding string `json:"encoding"` // "utf-8" or "base64"
}

// ImportAnalyzeArgs represents the arguments for the import_analyze tool.
type ImportAnalyzeArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs,omitempty" jsonschema:"Target project to diff against. Omit for a new-project import."`
	Document    string      `json:"document" jsonschema:"The snapshot JSON document to analyze."`
}

// AnalyzeResult lists the differences and the subset flagged as conflicts.
type AnalyzeResult struct {
	Differences []Difference `json:"differences"`
	Conflicts   []Difference `json:"conflicts"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// ImportExecuteArgs represents the arguments for the import_execute tool.
type ImportExecuteArgs struct {
	ProjectArgs  ProjectArgs  `json:"projectArgs,omitempty" jsonschema:"Target project for merge mode."`
	Document     string       `json:"document" jsonschema:"The snapshot JSON document to import."`
	Mode         string       `json:"mode" jsonschema:"Import mode: create_new or merge."`
	ProjectName  string       `json:"projectName,omitempty" jsonschema:"Name override for create_new mode."`
	Actor        string       `json:"actor,omitempty" jsonschema:"User recorded as creator of imported items."`
	ConfirmedIDs []string     `json:"confirmedIds,omitempty" jsonschema:"Difference ids confirmed for merge mode."`
	Resolutions  []Resolution `json:"resolutions,omitempty" jsonschema:"Per-conflict resolutions for merge mode."`
}

// ExtractKnowledgeArgs represents the arguments for the extract_knowledge tool.
type ExtractKnowledgeArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs" jsonschema:"Project context for the operation."`
	CotItemID   string      `json:"cotItemId" jsonschema:"The CoT item whose chosen candidate is mined for entities and relations."`
}

// SearchKnowledgeArgs represents the arguments for the search_knowledge tool.
type SearchKnowledgeArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs" jsonschema:"Project context for the operation."`
	Query       string      `json:"query" jsonschema:"Text query matched against entity names, types and descriptions."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of results (default 10)."`
}

// ReadGraphArgs represents the arguments for the read_graph tool.
type ReadGraphArgs struct {
	ProjectArgs ProjectArgs `json:"projectArgs" jsonschema:"Project context for the operation."`
	Limit       int         `json:"limit,omitempty" jsonschema:"Maximum number of recent entities (default 10)."`
}

// HealthArgs represents the arguments for the health tool.
type HealthArgs struct{}

// HealthResult reports build and configuration info.
type HealthResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision,omitempty"`
	BuildDate     string `json:"buildDate,omitempty"`
	EmbeddingDims int    `json:"embeddingDims"`
}

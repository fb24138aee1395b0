// Package server exposes the reconciliation and knowledge-extraction
// operations as MCP tools over stdio or SSE transports.
package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cotstudio/cot-studio-go/internal/apptype"
	"github.com/cotstudio/cot-studio-go/internal/buildinfo"
	"github.com/cotstudio/cot-studio-go/internal/database"
	"github.com/cotstudio/cot-studio-go/internal/diff"
	"github.com/cotstudio/cot-studio-go/internal/extraction"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
	"github.com/cotstudio/cot-studio-go/internal/reconcile"
	"github.com/cotstudio/cot-studio-go/internal/snapshot"
)

// MCPServer handles MCP protocol communication
type MCPServer struct {
	server   *mcp.Server
	db       *database.DBManager
	executor *reconcile.Executor
	pipeline *extraction.Pipeline
}

// NewMCPServer creates a new MCP server. The pipeline may be nil when no
// completion service is configured; the extract_knowledge tool then
// reports an error at call time instead of at startup.
func NewMCPServer(db *database.DBManager, pipeline *extraction.Pipeline) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cot-studio-go",
		Version: buildinfo.Version,
	}, nil)

	mcpServer := &MCPServer{
		server:   server,
		db:       db,
		executor: reconcile.NewExecutor(db),
		pipeline: pipeline,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	mcpServer.setupToolHandlers()
	return mcpServer
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	exportInputSchema, err := jsonschema.For[apptype.ExportProjectArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExportProjectArgs: %v", err))
	}
	exportOutputSchema, err := jsonschema.For[apptype.ExportProjectResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExportProjectResult: %v", err))
	}
	analyzeInputSchema, err := jsonschema.For[apptype.ImportAnalyzeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ImportAnalyzeArgs: %v", err))
	}
	analyzeOutputSchema, err := jsonschema.For[apptype.AnalyzeResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for AnalyzeResult: %v", err))
	}
	executeInputSchema, err := jsonschema.For[apptype.ImportExecuteArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ImportExecuteArgs: %v", err))
	}
	executeOutputSchema, err := jsonschema.For[apptype.ImportResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ImportResult: %v", err))
	}
	extractInputSchema, err := jsonschema.For[apptype.ExtractKnowledgeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExtractKnowledgeArgs: %v", err))
	}
	extractOutputSchema, err := jsonschema.For[apptype.ExtractionResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExtractionResult: %v", err))
	}
	searchInputSchema, err := jsonschema.For[apptype.SearchKnowledgeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SearchKnowledgeArgs: %v", err))
	}
	searchOutputSchema, err := jsonschema.For[apptype.GraphResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphResult (search): %v", err))
	}
	readGraphInputSchema, err := jsonschema.For[apptype.ReadGraphArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ReadGraphArgs: %v", err))
	}
	readGraphOutputSchema, err := jsonschema.For[apptype.GraphResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for GraphResult (read): %v", err))
	}
	healthInputSchema, err := jsonschema.For[apptype.HealthArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthArgs: %v", err))
	}
	healthOutputSchema, err := jsonschema.For[apptype.HealthResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthResult: %v", err))
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "export_project",
		Title:        "Export Project",
		Description:  "Serialize a project snapshot as json, markdown, latex, text or a zip package.",
		InputSchema:  exportInputSchema,
		OutputSchema: exportOutputSchema,
	}, s.handleExportProject)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "import_analyze",
		Title:        "Analyze Import",
		Description:  "Diff an uploaded snapshot document against a target project and list differences and conflicts.",
		InputSchema:  analyzeInputSchema,
		OutputSchema: analyzeOutputSchema,
	}, s.handleImportAnalyze)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "import_execute",
		Title:        "Execute Import",
		Description:  "Materialize an uploaded snapshot into a new project or merge confirmed differences into an existing one.",
		InputSchema:  executeInputSchema,
		OutputSchema: executeOutputSchema,
	}, s.handleImportExecute)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "extract_knowledge",
		Title:        "Extract Knowledge",
		Description:  "Mine entities and relations from a CoT item's chosen candidate and store them in the knowledge graph.",
		InputSchema:  extractInputSchema,
		OutputSchema: extractOutputSchema,
	}, s.handleExtractKnowledge)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "search_knowledge",
		Title:        "Search Knowledge",
		Description:  "Search stored entities by name, type or description and return them with their relations.",
		InputSchema:  searchInputSchema,
		OutputSchema: searchOutputSchema,
	}, s.handleSearchKnowledge)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "read_graph",
		Title:        "Read Graph",
		Description:  "Get recent entities and their relations.",
		InputSchema:  readGraphInputSchema,
		OutputSchema: readGraphOutputSchema,
	}, s.handleReadGraph)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health",
		Title:        "Health",
		Description:  "Report build and configuration info.",
		InputSchema:  healthInputSchema,
		OutputSchema: healthOutputSchema,
	}, s.handleHealth)
}

// handleExportProject handles the export_project tool call
func (s *MCPServer) handleExportProject(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ExportProjectArgs],
) (*mcp.CallToolResultFor[apptype.ExportProjectResult], error) {
	done := metrics.TimeTool("export_project")
	var success bool
	defer func() { done(success) }()

	format, err := snapshot.ParseFormat(params.Arguments.Format)
	if err != nil {
		return nil, err
	}
	snap, err := s.db.ProjectSnapshot(ctx, params.Arguments.ProjectArgs.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project snapshot: %w", err)
	}
	if params.Arguments.IncludeKG {
		entities, gErr := s.db.ProjectEntities(ctx, params.Arguments.ProjectArgs.ProjectID)
		if gErr != nil {
			return nil, fmt.Errorf("failed to load knowledge graph: %w", gErr)
		}
		relations, gErr := s.db.ProjectRelations(ctx, params.Arguments.ProjectArgs.ProjectID)
		if gErr != nil {
			return nil, fmt.Errorf("failed to load knowledge graph: %w", gErr)
		}
		snap.KGData = &apptype.KGData{Entities: entities, Relations: relations}
	}

	data, err := snapshot.Serialize(snap, format)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}

	exported := apptype.ExportProjectResult{Format: string(format), Encoding: "utf-8", Document: string(data)}
	if format == snapshot.FormatZip {
		exported.Encoding = "base64"
		exported.Document = base64.StdEncoding.EncodeToString(data)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.ExportProjectResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Exported project %s as %s", params.Arguments.ProjectArgs.ProjectID, format)},
		},
		StructuredContent: exported,
	}, nil
}

// handleImportAnalyze handles the import_analyze tool call
func (s *MCPServer) handleImportAnalyze(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ImportAnalyzeArgs],
) (*mcp.CallToolResultFor[apptype.AnalyzeResult], error) {
	done := metrics.TimeTool("import_analyze")
	var success bool
	defer func() { done(success) }()

	source, warnings, err := snapshot.Deserialize([]byte(params.Arguments.Document))
	if err != nil {
		return nil, fmt.Errorf("document rejected: %w", err)
	}

	var target *apptype.Snapshot
	if projectID := params.Arguments.ProjectArgs.ProjectID; projectID != "" {
		target, err = s.db.ProjectSnapshot(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("failed to load target project %s: %w", projectID, err)
		}
	}

	differences, conflicts := diff.Diff(source, target)
	success = true

	return &mcp.CallToolResultFor[apptype.AnalyzeResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Analysis found %d differences and %d conflicts", len(differences), len(conflicts))},
		},
		StructuredContent: apptype.AnalyzeResult{
			Differences: differences,
			Conflicts:   conflicts,
			Warnings:    warnings,
		},
	}, nil
}

// handleImportExecute handles the import_execute tool call
func (s *MCPServer) handleImportExecute(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ImportExecuteArgs],
) (*mcp.CallToolResultFor[apptype.ImportResult], error) {
	done := metrics.TimeTool("import_execute")
	var success bool
	defer func() { done(success) }()

	source, _, err := snapshot.Deserialize([]byte(params.Arguments.Document))
	if err != nil {
		return nil, fmt.Errorf("document rejected: %w", err)
	}

	confirmed := make(map[string]bool, len(params.Arguments.ConfirmedIDs))
	for _, id := range params.Arguments.ConfirmedIDs {
		confirmed[id] = true
	}
	resolutions := make(map[string]apptype.Resolution, len(params.Arguments.Resolutions))
	for _, r := range params.Arguments.Resolutions {
		resolutions[r.DifferenceID] = r
	}

	result, err := s.executor.Execute(ctx, reconcile.Request{
		Source:          source,
		Mode:            apptype.ImportMode(params.Arguments.Mode),
		TargetProjectID: params.Arguments.ProjectArgs.ProjectID,
		ProjectName:     params.Arguments.ProjectName,
		Actor:           params.Arguments.Actor,
		ConfirmedIDs:    confirmed,
		Resolutions:     resolutions,
	})
	if err != nil {
		return nil, fmt.Errorf("import failed: %w", err)
	}
	success = result.Success

	return &mcp.CallToolResultFor[apptype.ImportResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Import finished: %d items imported, %d skipped, %d errors",
				result.Imported.CotItems, result.Skipped.CotItems, len(result.Errors))},
		},
		StructuredContent: *result,
	}, nil
}

// handleExtractKnowledge handles the extract_knowledge tool call
func (s *MCPServer) handleExtractKnowledge(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ExtractKnowledgeArgs],
) (*mcp.CallToolResultFor[apptype.ExtractionResult], error) {
	done := metrics.TimeTool("extract_knowledge")
	var success bool
	defer func() { done(success) }()

	if s.pipeline == nil {
		return nil, fmt.Errorf("no completion service configured, knowledge extraction is unavailable")
	}

	result, err := s.pipeline.Extract(ctx, params.Arguments.ProjectArgs.ProjectID, params.Arguments.CotItemID)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}
	success = true

	text := fmt.Sprintf("Extracted %d entities and %d relations", len(result.Entities), len(result.Relations))
	if result.Skipped {
		text = fmt.Sprintf("Extraction skipped: %s", result.SkipReason)
	}
	return &mcp.CallToolResultFor[apptype.ExtractionResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: text}},
		StructuredContent: *result,
	}, nil
}

// handleSearchKnowledge handles the search_knowledge tool call
func (s *MCPServer) handleSearchKnowledge(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SearchKnowledgeArgs],
) (*mcp.CallToolResultFor[apptype.GraphResult], error) {
	done := metrics.TimeTool("search_knowledge")
	var success bool
	defer func() { done(success) }()

	projectID := params.Arguments.ProjectArgs.ProjectID
	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}

	entities, err := s.db.SearchEntities(ctx, projectID, params.Arguments.Query, limit)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	relations, err := s.db.RelationsForEntities(ctx, projectID, entities)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.GraphResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Search completed successfully"}},
		StructuredContent: apptype.GraphResult{
			Entities:  entities,
			Relations: relations,
		},
	}, nil
}

// handleReadGraph handles the read_graph tool call
func (s *MCPServer) handleReadGraph(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ReadGraphArgs],
) (*mcp.CallToolResultFor[apptype.GraphResult], error) {
	done := metrics.TimeTool("read_graph")
	var success bool
	defer func() { done(success) }()

	limit := params.Arguments.Limit
	if limit <= 0 {
		limit = 10
	}
	entities, relations, err := s.db.ReadGraph(ctx, params.Arguments.ProjectArgs.ProjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("read graph failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.GraphResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "Graph read successfully"}},
		StructuredContent: apptype.GraphResult{
			Entities:  entities,
			Relations: relations,
		},
	}, nil
}

// handleHealth handles the health tool call
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health")
	var success bool
	defer func() { done(success) }()
	success = true

	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content: []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: apptype.HealthResult{
			Name:          "cot-studio-go",
			Version:       buildinfo.Version,
			Revision:      buildinfo.Revision,
			BuildDate:     buildinfo.BuildDate,
			EmbeddingDims: s.db.Config().EmbeddingDims,
		},
	}, nil
}

func (s *MCPServer) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.db.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	s.reportPoolStats(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.reportPoolStats(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("SSE MCP server listening on %s%s", addr, endpoint)
	return srv.ListenAndServe()
}

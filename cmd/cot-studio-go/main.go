package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cotstudio/cot-studio-go/internal/database"
	"github.com/cotstudio/cot-studio-go/internal/extraction"
	"github.com/cotstudio/cot-studio-go/internal/metrics"
	"github.com/cotstudio/cot-studio-go/internal/server"
)

var (
	configPath  = flag.String("config", "", "Path to a YAML config file")
	libsqlURL   = flag.String("libsql-url", "", "libSQL database URL (default: file:./cotstudio.db)")
	authToken   = flag.String("auth-token", "", "Authentication token for remote databases")
	transport   = flag.String("transport", "stdio", "Transport to use: stdio or sse")
	addr        = flag.String("addr", ":8080", "Address to listen on when using SSE transport")
	sseEndpoint = flag.String("sse-endpoint", "/sse", "SSE endpoint path when using SSE transport")
)

func main() {
	flag.Parse()

	// Local development convenience; a missing .env is not an error.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, closing server...")
		cancel()
	}()

	// Initialize database configuration
	config := database.NewConfig()
	if *configPath != "" {
		loaded, err := database.LoadConfigFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		config = loaded
	}

	// Initialize metrics (noop if disabled)
	metrics.InitFromEnv()

	// Override with command line flags if provided
	if *libsqlURL != "" {
		config.URL = *libsqlURL
	}
	if *authToken != "" {
		config.AuthToken = *authToken
	}

	// Create database manager
	db, err := database.NewDBManager(config)
	if err != nil {
		log.Fatalf("Failed to create database manager: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Knowledge extraction is optional: without an API key the server still
	// serves export/import/search, and extract_knowledge reports an error.
	var pipeline *extraction.Pipeline
	if completer, err := extraction.NewOpenAICompleter(); err != nil {
		log.Printf("Warning: knowledge extraction disabled: %v", err)
	} else {
		pipeline, err = extraction.NewPipeline(db, extraction.Config{Completer: completer})
		if err != nil {
			log.Fatalf("Failed to create extraction pipeline: %v", err)
		}
		log.Printf("Knowledge extraction enabled via %s", completer.Name())
	}

	// Create MCP server
	mcpServer := server.NewMCPServer(db, pipeline)

	// Run the server with selected transport
	log.Println("Starting COT Studio server...")
	switch *transport {
	case "stdio":
		go func() {
			if err := mcpServer.Run(ctx); err != nil {
				log.Printf("Server error: %v", err)
			}
		}()
	case "sse":
		go func() {
			if err := mcpServer.RunSSE(ctx, *addr, *sseEndpoint); err != nil {
				log.Printf("SSE server error: %v", err)
			}
		}()
	default:
		log.Fatalf("unknown transport: %s (expected: stdio or sse)", *transport)
	}

	<-ctx.Done()

	log.Println("Server stopped")
}

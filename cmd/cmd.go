// Package cmd provides the agentplane CLI commands.
//
// Commands:
//   - serve: HTTP chat gateway
//   - provision: create or migrate the vector search index
//   - migrate: apply database migrations
//
// Signal handling and graceful shutdown are implemented for all
// commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Version is injected at build time via ldflags.
var Version = "development"

// Execute is the main entry point for the agentplane CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "provision":
		return runProvision()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("agentplane - chat gateway and vector index provisioner")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  agentplane serve [addr]  Start the HTTP chat gateway (default: 127.0.0.1:8080)")
	fmt.Println("  agentplane provision     Create or migrate the vector search index")
	fmt.Println("  agentplane migrate       Apply database migrations and exit")
	fmt.Println("  agentplane --version     Show version information")
	fmt.Println("  agentplane --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  DATABASE_URL                Optional: PostgreSQL connection URL")
	fmt.Println("  AWS_REGION                  Optional: cloud region (default: us-east-1)")
	fmt.Println("  AGENTPLANE_COLLECTION_ID    Required for provision: vector collection id")
	fmt.Println("  AGENTPLANE_RUNTIME_BASE_URL Required for serve: agent runtime base URL")
	fmt.Println("  AGENTPLANE_RUNTIME_ID       Required for serve: agent runtime id")
	fmt.Println("  DEBUG                       Optional: enable debug logging")
}

// runVersion displays version information.
func runVersion() {
	fmt.Printf("agentplane %s\n", Version)
}

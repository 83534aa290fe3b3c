package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/kestrelops/agentplane/internal/awsauth"
	"github.com/kestrelops/agentplane/internal/config"
	"github.com/kestrelops/agentplane/internal/search"
)

// runProvision creates or migrates the vector search index and exits.
func runProvision() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.CollectionID == "" {
		return errors.New("provision requires collection_id")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("provisioning vector index",
		"collection_id", cfg.CollectionID,
		"index", cfg.IndexName,
		"dimension", cfg.VectorDimension,
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("loading AWS config: %w", err)
	}

	signer := awsauth.NewSigner(awsCfg.Credentials, "aoss", cfg.Region)
	httpClient := awsauth.NewClient(&http.Client{Timeout: 30 * time.Second}, signer)

	controlEndpoint := cfg.SearchEndpoint
	if controlEndpoint == "" {
		controlEndpoint = fmt.Sprintf("https://aoss.%s.amazonaws.com", cfg.Region)
	}

	control := search.NewControlClient(httpClient, controlEndpoint, search.NewEndpointCache(), logger)
	prov := search.NewProvisioner(control, func(endpoint string) *search.IndexClient {
		return search.NewIndexClient(httpClient, endpoint, logger)
	}, logger)

	outcome, err := prov.Provision(ctx, search.IndexSpec{
		CollectionID:     cfg.CollectionID,
		IndexName:        cfg.IndexName,
		VectorDimension:  cfg.VectorDimension,
		SimilarityMethod: cfg.SimilarityMethod,
		Analyzer:         cfg.Analyzer,
	})
	if err != nil {
		return fmt.Errorf("provisioning index: %w", err)
	}

	fmt.Printf("index %s in collection %s: %s\n", outcome.IndexName, outcome.CollectionID, outcome.Status)
	return nil
}

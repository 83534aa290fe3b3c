package config

import (
	"fmt"
	"net/url"
	"slices"
)

var validSSLModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

var validSimilarityMethods = []string{SimilarityL2, SimilarityCosine, SimilarityInnerProduct}

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr cannot be empty", ErrInvalidServerAddr)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	if c.Region == "" {
		return fmt.Errorf("%w: region cannot be empty", ErrMissingRegion)
	}

	// Search settings are only validated when a collection is configured;
	// serve mode can run without the provisioner.
	if c.CollectionID != "" {
		if c.IndexName == "" {
			return fmt.Errorf("%w: index_name cannot be empty", ErrInvalidIndexName)
		}
		if c.VectorDimension < 1 || c.VectorDimension > 16000 {
			return fmt.Errorf("%w: must be between 1 and 16000, got %d", ErrInvalidDimension, c.VectorDimension)
		}
		if !slices.Contains(validSimilarityMethods, c.SimilarityMethod) {
			return fmt.Errorf("%w: got %q, expected one of %v", ErrInvalidSimilarity, c.SimilarityMethod, validSimilarityMethods)
		}
	}

	// Runtime settings are only validated when a runtime is configured;
	// provision mode can run without one.
	if c.RuntimeBaseURL != "" {
		u, err := url.Parse(c.RuntimeBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: got %q", ErrInvalidRuntimeURL, c.RuntimeBaseURL)
		}
		if c.RuntimeID == "" {
			return fmt.Errorf("%w: runtime_id required when runtime_base_url is set", ErrMissingRuntimeID)
		}
	}

	return nil
}

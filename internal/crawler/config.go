package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// Config holds the settings for one crawl run. It is decoupled from Viper so
// the engine can be configured and tested independently.
type Config struct {
	// RootURL is the entry-point index document.
	RootURL string
	// IndexPattern selects child indices that carry leaf resources.
	IndexPattern string
	// LeafPattern selects leaf locators to keep.
	LeafPattern string
	// FallbackToRootLeaves treats the root's own entries as leaves when the
	// root is an index of indices with no child matching IndexPattern. When
	// false that situation is fatal.
	FallbackToRootLeaves bool
	// MaxDepth bounds how many index levels below the root are walked.
	MaxDepth int
	// ArtifactPrefix is prepended to uploaded artifact object names.
	ArtifactPrefix string
	// PublishTopic receives the run summary when a Publisher is configured.
	PublishTopic string
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if strings.TrimSpace(c.RootURL) == "" {
		return fmt.Errorf("root url must be set")
	}
	u, err := url.ParseRequestURI(c.RootURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("root url %q: %w", c.RootURL, ErrInvalidLocator)
	}
	if strings.TrimSpace(c.IndexPattern) == "" {
		return fmt.Errorf("index pattern must be set")
	}
	if strings.TrimSpace(c.LeafPattern) == "" {
		return fmt.Errorf("leaf pattern must be set")
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("max depth must be >= 1")
	}
	return nil
}

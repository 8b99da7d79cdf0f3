package hosting

import (
	"fmt"
	"sort"
)

// Config selects and parameterizes a hosting provider.
type Config struct {
	// Provider forces a provider ("github", "gitlab"). Empty or "auto"
	// detects from the remote URL.
	Provider string

	// BaseURL points at a self-hosted instance. Empty means github.com
	// or gitlab.com.
	BaseURL string

	// TokenEnvVar overrides the environment variable holding the API
	// token. Defaults are GITHUB_TOKEN and GITLAB_TOKEN.
	TokenEnvVar string
}

// Constructor builds a provider for an already-resolved remote URL.
type Constructor func(remoteURL string, cfg Config) (Provider, error)

var constructors = map[ProviderType]Constructor{}

// Register installs a provider constructor. The github and gitlab
// subpackages call this from init, which keeps this package free of
// their SDK imports.
func Register(pt ProviderType, c Constructor) {
	constructors[pt] = c
}

// New builds the provider for the repository behind remoteURL. The
// provider type comes from cfg.Provider, or from the URL when auto.
func New(remoteURL string, cfg Config) (Provider, error) {
	pt, err := resolveType(remoteURL, cfg)
	if err != nil {
		return nil, err
	}
	c, ok := constructors[pt]
	if !ok {
		return nil, fmt.Errorf("no hosting provider registered for %q (have %v)", pt, registered())
	}
	return c(remoteURL, cfg)
}

func resolveType(remoteURL string, cfg Config) (ProviderType, error) {
	if cfg.Provider != "" && cfg.Provider != "auto" {
		pt := ProviderType(cfg.Provider)
		if pt != ProviderGitHub && pt != ProviderGitLab {
			return "", fmt.Errorf("unknown hosting provider %q (supported: github, gitlab)", cfg.Provider)
		}
		return pt, nil
	}
	pt := DetectProvider(remoteURL)
	if pt == ProviderUnknown {
		return "", fmt.Errorf("cannot detect hosting provider from remote %q; set hosting.provider explicitly", remoteURL)
	}
	return pt, nil
}

func registered() []string {
	var names []string
	for pt := range constructors {
		names = append(names, string(pt))
	}
	sort.Strings(names)
	return names
}

package hosting

import (
	"fmt"
	"os"
)

// Token reads the API token from the environment. cfg.TokenEnvVar wins
// over the provider's default variable name.
func Token(cfg Config, defaultEnvVar string) (string, error) {
	envVar := defaultEnvVar
	if cfg.TokenEnvVar != "" {
		envVar = cfg.TokenEnvVar
	}
	token := os.Getenv(envVar)
	if token == "" {
		return "", fmt.Errorf("%s environment variable is not set", envVar)
	}
	return token, nil
}

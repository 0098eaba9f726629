package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// GetAPIToken returns the bearer token guarding the local HTTP API. The
// token is read from CALMIND_API_TOKEN, then from the platform secret
// store; on first use one is generated and persisted so the server and the
// CLI agree across restarts.
func GetAPIToken() (string, error) {
	if t := os.Getenv("CALMIND_API_TOKEN"); t != "" {
		return t, nil
	}

	if out, err := keychainGet(secretService, "api_token"); err == nil {
		if t := strings.TrimSpace(string(out)); t != "" {
			return t, nil
		}
	}

	token := uuid.NewString()
	if err := keychainSet(secretService, "api_token", token); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return token, nil
}

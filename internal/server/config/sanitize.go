package config

import (
	"slices"
	"strings"
)

// Sanitize returns a copy of the config with secrets masked, for logging.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.Server.Admin.AllowedNetworks = slices.Clone(cfg.Server.Admin.AllowedNetworks)
	if sanitized.Server.Admin.Token != "" {
		sanitized.Server.Admin.Token = maskSecret(sanitized.Server.Admin.Token)
	}
	return &sanitized
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/socialbook/internal/infrastructure/env"
)

var candidatePaths = []string{
	"./config.yaml",
	"./config.yml",
	"./tmp/config.yaml",
	"../../config.yaml",
	"/etc/socialbook/config.yaml",
	"/app/config.yaml",
}

// DetermineConfigPath parses the --config flag and resolves the config file.
// An empty result means the process runs on defaults and environment only.
func DetermineConfigPath() string {
	var configPath string

	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	return ResolveConfigPath(configPath)
}

func ResolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if configPath := env.GetString("SOCIALBOOK_CONFIG", ""); configPath != "" {
		return configPath
	}

	for _, p := range candidatePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

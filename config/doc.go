// Package config loads agent deployments from YAML and builds their
// components.
//
// Load reads .env files (github.com/joho/godotenv) without overwriting the
// environment, expands ${VAR} and ${VAR:-default} references, decodes the
// file with gopkg.in/yaml.v3, applies defaults and validates everything once.
// The builders turn the result into a logger, a model gateway, a storage
// adapter, a knowledge retriever, a metrics recorder and agent options:
//
//	cfg, err := config.Load("agent.yaml")
//	comp, err := cfg.Build(ctx)
//	a, err := cfg.NewAgent(comp, sessionID, agent.WithTools(myTools...))
package config

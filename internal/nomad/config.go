package nomad

import (
	"os"
	"time"
)

// DefaultAddress is the Nomad HTTP API address used when neither the
// --address flag nor NOMAD_ADDR is set.
const DefaultAddress = "http://127.0.0.1:4646"

// Config holds Nomad connection parameters. It is deliberately separate
// from the orchestration options in the runner package: one struct feeds
// the HTTP client, the other the dispatch run.
type Config struct {
	Address   string        // Nomad server address (default DefaultAddress)
	Region    string        // Target region, empty for the server's own
	Namespace string        // Target namespace, empty for "default"
	Token     string        // SecretID of an ACL token
	Timeout   time.Duration // HTTP client timeout, zero for no timeout
}

// ConfigFromEnv returns a Config populated from the NOMAD_* environment
// variables. Flag values, when present, override these afterwards.
func ConfigFromEnv() Config {
	return Config{
		Address:   os.Getenv("NOMAD_ADDR"),
		Region:    os.Getenv("NOMAD_REGION"),
		Namespace: os.Getenv("NOMAD_NAMESPACE"),
		Token:     os.Getenv("NOMAD_TOKEN"),
	}
}

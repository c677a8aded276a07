package poscore

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/config"
)

// CredentialsEnvVar is the environment variable holding account credentials
// as a single-pair JSON object, {"<username>": "<password>"}.
const CredentialsEnvVar = "POSCORE_CREDENTIALS"

// Config holds the settings needed to construct Credentials and a Client.
type Config struct {
	API APISettings
}

type APISettings struct {
	BaseURL  string `yaml:"baseUrl"`
	Username string
	Password string
}

// LoadConfig reads YAML configuration from the given sources, later sources
// overriding earlier ones, with ${VAR} references expanded from the
// environment. Expected shape:
//
//	api:
//	  baseUrl: https://pos-core.pos-media.eu/gate/api/v1
//	  username: ${POSCORE_USERNAME}
//	  password: ${POSCORE_PASSWORD}
func LoadConfig(sources ...io.Reader) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		options = append(options, config.Source(s))
	}
	options = append(options, config.Expand(os.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	key := "api"
	err = yaml.Get(key).Populate(&result.API)
	if err != nil {
		return result, fmt.Errorf("failed to read '%s' from yaml config %w", key, err)
	}
	return result, nil
}

// Credentials constructs a credential manager from the loaded settings.
func (c Config) Credentials(opts ...CredentialsOption) *Credentials {
	if c.API.BaseURL != "" {
		opts = append([]CredentialsOption{WithBaseURL(c.API.BaseURL)}, opts...)
	}
	return NewCredentials(c.API.Username, c.API.Password, opts...)
}

// CredentialsFromEnvironment reads the account from CredentialsEnvVar,
// the single-pair JSON format used by deployment environments and the
// integration test harness.
func CredentialsFromEnvironment(opts ...CredentialsOption) (*Credentials, error) {
	raw := os.Getenv(CredentialsEnvVar)
	if raw == "" {
		return nil, fmt.Errorf("poscore: %s is not set", CredentialsEnvVar)
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("poscore: %s must be a valid JSON object: %w", CredentialsEnvVar, err)
	}
	for username, password := range m {
		if username == "" || password == "" {
			break
		}
		return NewCredentials(username, password, opts...), nil
	}
	return nil, fmt.Errorf("poscore: %s must contain a username and password pair", CredentialsEnvVar)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	configFileName = "replica"
	configFileType = "yaml"

	cfgKeyServer   = "server"
	cfgKeyAgentID  = "agent_id"
	cfgKeyDeviceID = "device_id"
	cfgKeyDBPath   = "db_path"
	cfgKeyToken    = "token"
	cfgKeyPageSize = "page_size"
)

// loadConfig reads replica.yaml from configDir, with REPLICA_* environment
// variables taking precedence. A missing file is not an error.
func loadConfig(configDir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyServer, "http://localhost:8080")
	v.SetDefault(cfgKeyDBPath, filepath.Join(configDir, "replica.db"))
	v.SetDefault(cfgKeyPageSize, 0)
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix("REPLICA")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// saveConfig writes the current settings back to replica.yaml.
func saveConfig(v *viper.Viper, configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	path := filepath.Join(configDir, configFileName+"."+configFileType)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}

type identity struct {
	agentID  uuid.UUID
	deviceID string
	token    string
}

// loggedIn returns the identity saved by login.
func loggedIn(v *viper.Viper) (*identity, error) {
	token := v.GetString(cfgKeyToken)
	if token == "" {
		return nil, errors.New("not logged in, run `replica login` first")
	}
	agentID, err := uuid.Parse(v.GetString(cfgKeyAgentID))
	if err != nil {
		return nil, fmt.Errorf("invalid %s in config: %w", cfgKeyAgentID, err)
	}
	deviceID := v.GetString(cfgKeyDeviceID)
	if deviceID == "" {
		return nil, fmt.Errorf("%s is not set", cfgKeyDeviceID)
	}
	return &identity{agentID: agentID, deviceID: deviceID, token: token}, nil
}

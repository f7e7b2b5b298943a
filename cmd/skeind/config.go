// Copyright 2026 The Skein Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the service's own configuration, layered flag > env > default
// through viper.
type Config struct {
	Port      int
	DataDir   string
	Project   string
	Binary    string
	LogLevel  string
	LogFormat string
}

// loadConfig reads the viper-resolved configuration and validates it.
// Errors wrap errUsage so Execute maps them to exit code 2.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:      viper.GetInt("server.port"),
		DataDir:   viper.GetString("server.data_dir"),
		Project:   viper.GetString("server.project"),
		Binary:    viper.GetString("backend.binary"),
		LogLevel:  viper.GetString("log.level"),
		LogFormat: viper.GetString("log.format"),
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range [0,65535]", errUsage, cfg.Port)
	}
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("%w: no home directory for default data dir: %v", errUsage, err)
		}
		cfg.DataDir = filepath.Join(home, ".skein", "api")
	}

	if cfg.Project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.Project = cwd
	}
	abs, err := filepath.Abs(cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("%w: project path %q: %v", errUsage, cfg.Project, err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: project directory does not exist: %s", errUsage, abs)
	}
	cfg.Project = abs
	return cfg, nil
}

// buildLogger constructs the process logger from the configured level and
// format: json gets the production encoder, anything else the development
// console encoder.
func buildLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q: %v", errUsage, level, err)
	}
	var zcfg zap.Config
	if format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = lvl
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

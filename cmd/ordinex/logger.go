// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/kalyank1144/ordinex/config"
	"github.com/kalyank1144/ordinex/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path.
	LogFileEnvVar = "ORDINEX_LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level.
	LogLevelEnvVar = "ORDINEX_LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format.
	LogFormatEnvVar = "ORDINEX_LOG_FORMAT"
	// DefaultLogFormat is the default log format.
	DefaultLogFormat = "simple"
)

// loggerSetExternally records whether initLoggerFromCLI resolved its
// settings from a CLI flag or environment variable rather than falling
// back to the hardcoded default, so a later config file load knows
// whether it is still allowed to pick the logger's settings (priority
// CLI flag > env var > config file > hardcoded default).
var loggerSetExternally bool

// initLoggerFromCLI initializes the logger from CLI flags and environment
// variables, priority CLI flag > env var > default. Returns a cleanup
// function to close any opened log file.
func initLoggerFromCLI(cliLogLevel, cliLogFile, cliLogFormat string) (func(), error) {
	logLevel := cliLogLevel
	if logLevel == "" {
		logLevel = os.Getenv(LogLevelEnvVar)
	}
	logFile := cliLogFile
	if logFile == "" {
		logFile = os.Getenv(LogFileEnvVar)
	}
	logFormat := cliLogFormat
	if logFormat == "" {
		logFormat = os.Getenv(LogFormatEnvVar)
	}
	loggerSetExternally = logLevel != "" || logFile != "" || logFormat != ""

	if logLevel == "" {
		logLevel = "info"
	}
	if logFormat == "" {
		logFormat = DefaultLogFormat
	}

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output *os.File
	var cleanup func()
	if logFile != "" {
		file, cleanupFn, err := logger.OpenLogFile(logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(level, output, logFormat)
	return cleanup, nil
}

// applyLoggerConfig re-initializes the logger from a loaded config file's
// logger section. It is a no-op if a CLI flag or env var already picked
// the logger's settings in initLoggerFromCLI.
func applyLoggerConfig(cfg config.LoggerConfig) (func(), error) {
	if loggerSetExternally {
		return nil, nil
	}
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level in config: %w", err)
	}

	var output *os.File
	var cleanup func()
	if cfg.File != "" {
		file, cleanupFn, err := logger.OpenLogFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	} else {
		output = os.Stderr
	}

	logger.Init(level, output, cfg.Format)
	return cleanup, nil
}

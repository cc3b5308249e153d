// Building Logger instances from the string-typed settings a config file or
// CURLFS_LOG_* environment override hands us (pkg/httpfs/config.Config),
// rather than requiring callers to construct a logging.Config by hand.
package logging

import (
	"fmt"
	"io"
	"os"
)

// ConfigureFromSettings builds a Logger from string settings: level is
// "debug"/"info"/"warn"/"error"; format is "text" or "json"; output is
// "console", "file", or "both" (filename required for the latter two).
func ConfigureFromSettings(level, format, output, filename string) (*Logger, error) {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var logFormat LogFormat
	switch format {
	case "json":
		logFormat = JSONFormat
	case "text", "":
		logFormat = TextFormat
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}

	var writer io.Writer
	switch output {
	case "console", "":
		writer = os.Stdout
	case "file":
		if filename == "" {
			return nil, fmt.Errorf("log file path required when output is 'file'")
		}
		fileWriter, err := CreateFileOutput(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create file output: %w", err)
		}
		writer = fileWriter
	case "both":
		if filename == "" {
			return nil, fmt.Errorf("log file path required when output is 'both'")
		}
		combinedWriter, err := CreateCombinedOutput(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create combined output: %w", err)
		}
		writer = combinedWriter
	default:
		return nil, fmt.Errorf("invalid log output: %s", output)
	}

	return NewLogger(&Config{
		Level:            logLevel,
		Format:           logFormat,
		Output:           writer,
		EnableSanitizing: true,
	}), nil
}

// InitFromConfig parses level/format/output/filename via ConfigureFromSettings
// and installs the result as the global logger (see main.go, which calls this
// with the engine config's LogLevel/LogFormat/LogOutput/LogFile fields before
// any worker is started).
func InitFromConfig(level, format, output, filename string) error {
	logger, err := ConfigureFromSettings(level, format, output, filename)
	if err != nil {
		return err
	}

	InitGlobalLogger(&Config{
		Level:            logger.level,
		Format:           logger.format,
		Output:           logger.output,
		ShowCaller:       logger.showCaller,
		Component:        logger.component,
		EnableSanitizing: logger.enableSanitizing,
	})

	return nil
}

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const logTimeFormat = "15:04:05"

var (
	loggerMutex  sync.RWMutex
	globalLogger arbor.ILogger
)

func consoleWriterConfig() models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeConsole,
		TimeFormat: logTimeFormat,
		TextOutput: true,
	}
}

func fileWriterConfig(path string) models.WriterConfiguration {
	return models.WriterConfiguration{
		Type:       models.LogWriterTypeFile,
		FileName:   path,
		TimeFormat: logTimeFormat,
		MaxSize:    100 * 1024 * 1024,
		MaxBackups: 3,
		TextOutput: true,
	}
}

// GetLogger returns the global logger, falling back to a console-only logger
// for code paths that run before InitLogger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	logger := globalLogger
	loggerMutex.RUnlock()
	if logger != nil {
		return logger
	}

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(consoleWriterConfig())
	}
	return globalLogger
}

// InitLogger builds the arbor logger from the logging config: writers per
// the configured outputs, level from the configured level. The file writer
// logs to logs/aestimo.log next to the executable.
func InitLogger(config *Config) arbor.ILogger {
	logger := arbor.NewLogger()

	toFile, toConsole := false, false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			toFile = true
		case "stdout", "console":
			toConsole = true
		}
	}

	if toFile {
		if dir, err := logDir(); err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
		} else {
			logger = logger.WithFileWriter(fileWriterConfig(filepath.Join(dir, "aestimo.log")))
		}
	}
	if toConsole || !toFile {
		logger = logger.WithConsoleWriter(consoleWriterConfig())
	}

	logger = logger.WithLevelFromString(config.Logging.Level)

	loggerMutex.Lock()
	globalLogger = logger
	loggerMutex.Unlock()

	return logger
}

func logDir() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate executable: %w", err)
	}
	dir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	return dir, nil
}

// GetLogFilePath reports where the logger is writing its file output, or ""
// when no file writer is attached.
func GetLogFilePath(logger arbor.ILogger) string {
	if logger == nil {
		return ""
	}
	return logger.GetLogFilePath()
}

package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds the service logger. Mode "debug" gets the development config
// (console encoding, Debug level); anything else gets production JSON.
func New(mode string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if mode == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("lookout"), nil
}

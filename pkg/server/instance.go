package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lissto-dev/updater/pkg/logging"
	"go.uber.org/zap"
)

// GetOrCreateInstanceID returns the instance ID stored at path, creating and
// saving a new one when the file is missing. An empty path yields a fresh ID
// for this process only.
func GetOrCreateInstanceID(path string) (string, error) {
	if path == "" {
		instanceID := uuid.New().String()
		logging.Logger.Info("Generated ephemeral instance ID", zap.String("id", instanceID))
		return instanceID, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if instanceID := strings.TrimSpace(string(data)); instanceID != "" {
			logging.Logger.Info("Loaded existing instance ID", zap.String("id", instanceID))
			return instanceID, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to read instance ID: %w", err)
	}

	instanceID := uuid.New().String()
	logging.Logger.Info("Generated new instance ID", zap.String("id", instanceID))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create instance ID directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(instanceID+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to save instance ID: %w", err)
	}

	logging.Logger.Info("Saved instance ID", zap.String("path", path))
	return instanceID, nil
}

package device

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/szibis/apptrack/internal/prefs"
)

// EverID returns the durable device identifier, generating and storing one
// on first use.
func EverID(s prefs.Store) (string, error) {
	id, ok, err := s.Get(prefs.KeyEverID)
	if err != nil {
		return "", fmt.Errorf("failed to read ever id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := s.Set(prefs.KeyEverID, id); err != nil {
		return id, fmt.Errorf("failed to store ever id: %w", err)
	}
	return id, nil
}

// FirstStart reports whether this is the first start of the app on the
// device and marks the installation so later calls return false.
func FirstStart(s prefs.Store) (bool, error) {
	installed, ok, err := prefs.GetBool(s, prefs.KeyInstallationFlag)
	if err != nil {
		return false, fmt.Errorf("failed to read installation flag: %w", err)
	}
	if ok && installed {
		return false, nil
	}
	if err := prefs.SetBool(s, prefs.KeyInstallationFlag, true); err != nil {
		return true, fmt.Errorf("failed to store installation flag: %w", err)
	}
	return true, nil
}

// Updated reports whether the stored app version code differs from code,
// then stores code. The very first start records the version and is not an
// update.
func Updated(s prefs.Store, code int) (bool, error) {
	stored, ok, err := prefs.GetInt(s, prefs.KeyAppVersion)
	if err != nil {
		return false, fmt.Errorf("failed to read app version: %w", err)
	}
	if ok && stored == code {
		return false, nil
	}
	if err := prefs.SetInt(s, prefs.KeyAppVersion, code); err != nil {
		return ok, fmt.Errorf("failed to store app version: %w", err)
	}
	return ok, nil
}

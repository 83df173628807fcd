package launch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Instance describes one installed, launchable version discovered on
// disk: its id, the resolved profile, and whether its client jar and
// every applicable library are already present (ReadyToLaunch mirrors
// the original's notion of "fully installed" versus "needs downloads
// first").
type Instance struct {
	Version        string
	Profile        *VersionProfile
	ReadyToLaunch  bool
}

// ScanInstances lists <gameDir>/versions/*/ directories, loads and
// inheritance-resolves each entry's profile, and reports classpath
// readiness for the current platform. A directory whose profile fails
// to parse is skipped rather than failing the whole scan, since a
// partially-downloaded or corrupt version shouldn't hide the rest.
func ScanInstances(gameDir string, features Features) ([]Instance, error) {
	versionsDir := filepath.Join(gameDir, "versions")
	entries, err := os.ReadDir(versionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("launch: read versions dir: %w", err)
	}

	var instances []Instance
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		version := entry.Name()
		profile, err := LoadVersionProfile(gameDir, version)
		if err != nil {
			continue
		}
		_, classpathErr := BuildClasspath(gameDir, version, profile, features)
		instances = append(instances, Instance{
			Version:       version,
			Profile:       profile,
			ReadyToLaunch: classpathErr == nil,
		})
	}
	return instances, nil
}

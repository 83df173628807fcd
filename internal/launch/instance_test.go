package launch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanInstancesReportsReadyAndNotReadyVersions(t *testing.T) {
	gameDir := t.TempDir()

	writeVersionJSON(t, gameDir, "1.20.1", `{"mainClass": "net.minecraft.client.main.Main"}`)
	touch(t, filepath.Join(gameDir, "versions", "1.20.1", "1.20.1.jar"))

	writeVersionJSON(t, gameDir, "1.19", `{"mainClass": "net.minecraft.client.main.Main"}`)
	// no jar for 1.19: not ready

	instances, err := ScanInstances(gameDir, Features{})
	require.NoError(t, err)
	require.Len(t, instances, 2)

	byVersion := map[string]Instance{}
	for _, inst := range instances {
		byVersion[inst.Version] = inst
	}
	assert.True(t, byVersion["1.20.1"].ReadyToLaunch)
	assert.False(t, byVersion["1.19"].ReadyToLaunch)
}

func TestScanInstancesMissingVersionsDirReturnsEmpty(t *testing.T) {
	gameDir := t.TempDir()
	instances, err := ScanInstances(gameDir, Features{})
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestScanInstancesSkipsCorruptProfile(t *testing.T) {
	gameDir := t.TempDir()
	dir := filepath.Join(gameDir, "versions", "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))

	instances, err := ScanInstances(gameDir, Features{})
	require.NoError(t, err)
	assert.Empty(t, instances)
}

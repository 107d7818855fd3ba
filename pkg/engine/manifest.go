package engine

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"strata/pkg/strataerr"
)

const manifestFileName = "MANIFEST"

// manifestFormatVersion is bumped only for incompatible on-disk changes,
// matching the freeze policy spec.md states for the SNAP/SVEC/STAM
// binary formats.
const manifestFormatVersion = 1

// manifest is the small JSON document identifying a database directory:
// its stable UUID (stamped into every snapshot header so a reader can
// confirm a snapshot belongs to this database) and the on-disk format
// version.
type manifest struct {
	FormatVersion uint32 `json:"format_version"`
	DatabaseUUID  string `json:"database_uuid"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestFileName)
}

// loadOrCreateManifest reads dir's MANIFEST, creating one with a fresh
// random UUID if the directory is being opened for the first time.
func loadOrCreateManifest(dir string) (manifest, [16]byte, error) {
	path := manifestPath(dir)
	data, err := os.ReadFile(path)
	if err == nil {
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return manifest{}, [16]byte{}, strataerr.Corruption("engine.loadOrCreateManifest", err)
		}
		id, err := uuid.Parse(m.DatabaseUUID)
		if err != nil {
			return manifest{}, [16]byte{}, strataerr.Corruption("engine.loadOrCreateManifest", err)
		}
		return m, [16]byte(id), nil
	}
	if !os.IsNotExist(err) {
		return manifest{}, [16]byte{}, strataerr.IO("engine.loadOrCreateManifest", err)
	}

	id := uuid.New()
	m := manifest{FormatVersion: manifestFormatVersion, DatabaseUUID: id.String()}
	data, jsonErr := json.MarshalIndent(m, "", "  ")
	if jsonErr != nil {
		return manifest{}, [16]byte{}, strataerr.Internal("engine.loadOrCreateManifest", jsonErr)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return manifest{}, [16]byte{}, strataerr.IO("engine.loadOrCreateManifest", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return manifest{}, [16]byte{}, strataerr.IO("engine.loadOrCreateManifest", err)
	}
	return m, [16]byte(id), nil
}

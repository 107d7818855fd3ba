package engine

import (
	"time"

	"strata/pkg/snapshot"
)

// CreateSnapshot serializes every registered primitive's durable state
// into one snapshot file, using the store's current version as the
// watermark below which the WAL no longer needs replaying. Returns the
// snapshot's Info (id, watermark, path) for the caller to log or record.
func (e *Engine) CreateSnapshot() (snapshot.Info, error) {
	sections := make([]snapshot.Section, 0, len(e.reg.All()))
	for _, p := range e.reg.All() {
		data, err := p.SerializeSnapshot()
		if err != nil {
			return snapshot.Info{}, err
		}
		sections = append(sections, snapshot.Section{PrimitiveType: p.TypeID(), Data: data})
	}

	existing, err := snapshot.ListSnapshots(e.snapDir)
	if err != nil {
		return snapshot.Info{}, err
	}
	nextID := uint64(1)
	for _, id := range existing {
		if id >= nextID {
			nextID = id + 1
		}
	}

	watermark := e.store.CurrentVersion()
	return e.snapWriter.Create(nextID, watermark, uint64(time.Now().UnixMicro()), sections)
}

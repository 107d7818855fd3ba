package registry

import (
	"fmt"

	"strata/pkg/wal"
)

func errAlreadyRegisteredName(name string) error {
	return fmt.Errorf("primitive %q already registered", name)
}

func errAlreadyRegisteredTypeID(id uint8) error {
	return fmt.Errorf("type id %d already registered", id)
}

func errEntryTypeOwned(et wal.EntryType, owner string) error {
	return fmt.Errorf("wal entry type %d already owned by %q", et, owner)
}

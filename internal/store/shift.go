package store

import (
	"database/sql"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/model"
)

// ShiftDatasetTime adds hours*3600 seconds to every message's
// time_sent and time_edited in the dataset (spec §4.2.6), used to
// correct a source's recorded local-time offset.
func (s *Store) ShiftDatasetTime(ds model.DatasetUUID, hours int64) error {
	delta := hours * 3600
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(
				`UPDATE message SET time_sent = time_sent + ?, time_edited = time_edited + ? WHERE ds_uuid = ?`,
				delta, delta, uuidBytes(ds)); err != nil {
				return apperr.WrapDB(err, "shift dataset time")
			}
			return nil
		})
	})
}

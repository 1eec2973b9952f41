package store

import (
	"database/sql"
	"time"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/dsroot"
	"github.com/wesm/chatvault/internal/model"
)

// Datasets returns every dataset, cached (spec §4.2.1, §4.2.7).
func (s *Store) Datasets() ([]model.Dataset, error) {
	var out []model.Dataset
	err := s.withReadLock(func() error {
		var err error
		out, err = s.cache.getDatasets(s.loadDatasets)
		return err
	})
	return out, err
}

func (s *Store) loadDatasets() ([]model.Dataset, error) {
	rows, err := s.db.Query(`SELECT uuid, alias FROM dataset ORDER BY alias`)
	if err != nil {
		return nil, apperr.WrapDB(err, "query datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		var uuidBytes []byte
		var alias string
		if err := rows.Scan(&uuidBytes, &alias); err != nil {
			return nil, apperr.WrapDB(err, "scan dataset")
		}
		id, err := uuidFromBytes(uuidBytes)
		if err != nil {
			return nil, err
		}
		out = append(out, model.Dataset{UUID: id, Alias: alias})
	}
	return out, rows.Err()
}

// Root returns the media root for ds beneath this store's storage
// directory.
func (s *Store) Root(ds model.DatasetUUID) *dsroot.Root {
	return dsroot.New(s.StorageRoot, ds)
}

// Dataset returns one dataset by uuid.
func (s *Store) Dataset(ds model.DatasetUUID) (*model.Dataset, error) {
	datasets, err := s.Datasets()
	if err != nil {
		return nil, err
	}
	for i := range datasets {
		if datasets[i].UUID == ds {
			return &datasets[i], nil
		}
	}
	return nil, apperr.NotFound("dataset %s not found", ds)
}

// InsertDataset inserts a new dataset row.
func (s *Store) InsertDataset(d model.Dataset) error {
	return s.withWriteLock(func() error {
		return s.withTx(func(tx *sql.Tx) error {
			return insertDatasetTx(tx, d)
		})
	})
}

// insertDatasetTx is InsertDataset's statement, factored out so a
// caller already holding a transaction (CopyDatasetsFrom) can insert a
// dataset as one step of a larger per-dataset transaction instead of
// opening its own.
func insertDatasetTx(tx *sql.Tx, d model.Dataset) error {
	_, err := tx.Exec(
		`INSERT INTO dataset (uuid, alias) VALUES (?, ?)`,
		uuidBytes(d.UUID), d.Alias,
	)
	if err != nil {
		if isSQLiteError(err, "UNIQUE constraint") {
			return apperr.Conflict("dataset %s already exists", d.UUID)
		}
		return apperr.WrapDB(err, "insert dataset")
	}
	return nil
}

// UpdateDataset updates a dataset's alias. The UUID is immutable (spec
// §4.2.1).
func (s *Store) UpdateDataset(ds model.DatasetUUID, alias string) error {
	return s.withWriteLock(func() error {
		res, err := s.db.Exec(`UPDATE dataset SET alias = ? WHERE uuid = ?`, alias, uuidBytes(ds))
		if err != nil {
			return apperr.WrapDB(err, "update dataset")
		}
		return requireRowsAffected(res, "dataset %s", ds)
	})
}

// DeleteDataset bulk-deletes every per-dataset row in dependency order
// (content → RTE → message → chat_member → chat → profile_picture →
// user → dataset) and moves the dataset's directory wholesale under
// the backup tree (spec §4.2.6).
func (s *Store) DeleteDataset(ds model.DatasetUUID) error {
	return s.withWriteLock(func() error {
		err := s.withTx(func(tx *sql.Tx) error {
			id := uuidBytes(ds)
			stmts := []string{
				`DELETE FROM message_content WHERE message_internal_id IN (SELECT internal_id FROM message WHERE ds_uuid = ?)`,
				`DELETE FROM message_text_element WHERE message_internal_id IN (SELECT internal_id FROM message WHERE ds_uuid = ?)`,
				`DELETE FROM message WHERE ds_uuid = ?`,
				`DELETE FROM chat_member WHERE ds_uuid = ?`,
				`DELETE FROM chat WHERE ds_uuid = ?`,
				`DELETE FROM profile_picture WHERE ds_uuid = ?`,
				`DELETE FROM user WHERE ds_uuid = ?`,
				`DELETE FROM dataset WHERE uuid = ?`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt, id); err != nil {
					return apperr.WrapDB(err, "delete dataset: %s", stmt)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		root := dsroot.New(s.StorageRoot, ds)
		return moveToBackup(s.StorageRoot, root.Dir(), "")
	})
}

// uuidBytes/uuidFromBytes convert between the model's UUID type and
// the 16-byte blob form the schema stores (spec §4.2.2 "ds_uuid = 16-
// byte blob in every table").
func uuidBytes(id model.DatasetUUID) []byte {
	b := id
	return b[:]
}

func uuidFromBytes(b []byte) (model.DatasetUUID, error) {
	var id model.DatasetUUID
	if len(b) != 16 {
		return id, apperr.DB("expected 16-byte uuid blob, got %d bytes", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func requireRowsAffected(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.WrapDB(err, "check rows affected")
	}
	if n == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}

func nowTimestampSuffix() string {
	return time.Now().UTC().Format("2006-01-02_15-04-05")
}

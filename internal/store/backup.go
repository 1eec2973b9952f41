package store

import (
	"archive/zip"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/wesm/chatvault/internal/apperr"
)

const maxBackupArchives = 3

// BackupHandle lets a caller wait for a backup's background
// compression step to finish (spec §4.2.6: "compression runs on a
// background thread; the call returns a handle that can be joined").
type BackupHandle struct {
	done chan struct{}
	err  error
	Path string
}

// Join blocks until the backup's zip step completes and returns any
// error encountered.
func (h *BackupHandle) Join() error {
	<-h.done
	return h.err
}

// Backup performs an online SQLite backup (pages-at-a-time, no
// exclusive lock held on the live database) into
// _backups/data.sqlite, then compresses it with Deflate into
// _backups/backup_<ts>.zip on a background goroutine, removing the
// temporary copy and pruning to the most recent maxBackupArchives
// (spec §4.2.6).
func (s *Store) Backup() (*BackupHandle, error) {
	backupsPath := backupsDir(s.StorageRoot)
	if err := os.MkdirAll(backupsPath, 0o755); err != nil {
		return nil, apperr.WrapFS(err, "create backups directory")
	}

	tmpPath := filepath.Join(backupsPath, "data.sqlite")
	err := s.withReadLock(func() error {
		return s.onlineBackupTo(tmpPath)
	})
	if err != nil {
		return nil, err
	}

	handle := &BackupHandle{done: make(chan struct{})}
	archiveName := "backup_" + nowTimestampSuffix() + ".zip"
	archivePath := filepath.Join(backupsPath, archiveName)
	for n := 2; ; n++ {
		if _, err := os.Stat(archivePath); os.IsNotExist(err) {
			break
		}
		archivePath = filepath.Join(backupsPath, fmt_backup(nowTimestampSuffix(), n)+".zip")
	}
	handle.Path = archivePath

	go func() {
		defer close(handle.done)
		if err := zipFile(tmpPath, archivePath); err != nil {
			handle.err = err
			return
		}
		if err := os.Remove(tmpPath); err != nil {
			handle.err = apperr.WrapFS(err, "remove temporary backup copy")
			return
		}
		handle.err = pruneOldBackups(backupsPath, maxBackupArchives)
	}()
	return handle, nil
}

// onlineBackupTo uses mattn/go-sqlite3's online backup API to copy the
// live database into a fresh file at dstPath without an exclusive lock
// (spec §4.2.6).
func (s *Store) onlineBackupTo(dstPath string) error {
	_ = os.Remove(dstPath)
	dstDB, err := sql.Open("sqlite3", dstPath)
	if err != nil {
		return apperr.WrapDB(err, "open backup destination")
	}
	defer dstDB.Close()

	srcConn, err := s.db.Conn(nil)
	if err != nil {
		return apperr.WrapDB(err, "acquire source connection")
	}
	defer srcConn.Close()
	dstConn, err := dstDB.Conn(nil)
	if err != nil {
		return apperr.WrapDB(err, "acquire destination connection")
	}
	defer dstConn.Close()

	var backupErr error
	err = dstConn.Raw(func(dstRaw interface{}) error {
		return srcConn.Raw(func(srcRaw interface{}) error {
			dstSQLite, ok := dstRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return apperr.Internal("destination connection is not a sqlite3.SQLiteConn")
			}
			srcSQLite, ok := srcRaw.(*sqlite3.SQLiteConn)
			if !ok {
				return apperr.Internal("source connection is not a sqlite3.SQLiteConn")
			}
			backup, err := dstSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return apperr.WrapDB(err, "start online backup")
			}
			defer backup.Close()
			if _, err := backup.Step(-1); err != nil {
				backupErr = apperr.WrapDB(err, "step online backup")
				return nil
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	return backupErr
}

func zipFile(srcPath, archivePath string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return apperr.WrapFS(err, "open backup source %s", srcPath)
	}
	defer in.Close()

	out, err := os.Create(archivePath)
	if err != nil {
		return apperr.WrapFS(err, "create backup archive %s", archivePath)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "data.sqlite", Method: zip.Deflate})
	if err != nil {
		return apperr.WrapFS(err, "create zip entry")
	}
	if _, err := io.Copy(w, in); err != nil {
		return apperr.WrapFS(err, "write zip entry")
	}
	return zw.Close()
}

func pruneOldBackups(backupsPath string, keep int) error {
	entries, err := os.ReadDir(backupsPath)
	if err != nil {
		return apperr.WrapFS(err, "read backups directory")
	}
	var archives []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".zip") {
			archives = append(archives, e.Name())
		}
	}
	sort.Strings(archives)
	if len(archives) <= keep {
		return nil
	}
	for _, name := range archives[:len(archives)-keep] {
		if err := os.Remove(filepath.Join(backupsPath, name)); err != nil {
			return apperr.WrapFS(err, "prune old backup %s", name)
		}
	}
	return nil
}

// Vacuum issues a real SQLite VACUUM, rebuilding the database file to
// reclaim space. An earlier revision of the upstream tool ran `PRAGMA
// defer_foreign_keys = true` here instead of VACUUM, likely a copy-
// paste bug (spec §9 open question i); this is the corrected behavior.
func (s *Store) Vacuum() error {
	return s.withWriteLock(func() error {
		if _, err := s.db.Exec(`VACUUM`); err != nil {
			return apperr.WrapDB(err, "vacuum")
		}
		return nil
	})
}

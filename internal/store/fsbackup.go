package store

import (
	"os"
	"path/filepath"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/fileutil"
)

// backupsDir is the top-level non-destructive-backup directory (spec
// §4.2.3, §3.4: deleting a dataset or chat moves owned files here
// instead of unlinking them).
func backupsDir(storageRoot string) string {
	return filepath.Join(storageRoot, "_backups")
}

// newDatedBackupSubdir returns a fresh, collision-free directory under
// _backups/ named backup_<timestamp>[_N], mirroring the naming scheme
// the zip backup archive uses (spec §4.2.6).
func newDatedBackupSubdir(storageRoot string) (string, error) {
	base := backupsDir(storageRoot)
	if err := fileutil.SecureMkdirAll(base, 0o755); err != nil {
		return "", apperr.WrapFS(err, "create backups directory")
	}
	stamp := nowTimestampSuffix()
	candidate := filepath.Join(base, "backup_"+stamp)
	for n := 2; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if err := os.MkdirAll(candidate, 0o755); err != nil {
				return "", apperr.WrapFS(err, "create dated backup directory")
			}
			return candidate, nil
		}
		candidate = filepath.Join(base, fmt_backup(stamp, n))
	}
}

func fmt_backup(stamp string, n int) string {
	return "backup_" + stamp + "_" + itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// moveToBackup moves srcDir (if it exists) into a fresh dated
// directory under _backups/, keeping its path relative to storageRoot
// (a dataset directory lands at _backups/backup_<ts>/<ds_uuid>). The
// third argument is ignored.
func moveToBackup(storageRoot, srcDir, _ string) error {
	if _, err := os.Stat(srcDir); os.IsNotExist(err) {
		return nil
	}
	destBase, err := newDatedBackupSubdir(storageRoot)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(storageRoot, srcDir)
	if err != nil {
		return apperr.WrapFS(err, "compute relative backup path for %s", srcDir)
	}
	dest := filepath.Join(destBase, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperr.WrapFS(err, "create backup parent directory")
	}
	if err := os.Rename(srcDir, dest); err != nil {
		return apperr.WrapFS(err, "move %s to backup", srcDir)
	}
	removeEmptyAncestors(storageRoot, filepath.Dir(srcDir))
	return nil
}

// moveFileToBackupDir moves one file (relative to storageRoot/dsUUID)
// into destBase, a dated backup directory the caller computed once up
// front — used by delete_chat to relocate every referenced media file
// from one chat into the same dated tree (spec §4.2.6: "moved under
// the dated backup directory", singular, for the whole operation).
func moveFileToBackupDir(storageRoot, destBase, absPath string) error {
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return nil
	}
	rel, err := filepath.Rel(storageRoot, absPath)
	if err != nil {
		return apperr.WrapFS(err, "compute relative backup path for %s", absPath)
	}
	dest := filepath.Join(destBase, rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return apperr.WrapFS(err, "create backup parent directory")
	}
	if err := os.Rename(absPath, dest); err != nil {
		return apperr.WrapFS(err, "move %s to backup", absPath)
	}
	removeEmptyAncestors(storageRoot, filepath.Dir(absPath))
	return nil
}

// removeEmptyAncestors removes dir and any now-empty parent
// directories, stopping at (and never removing) storageRoot (spec
// §4.2.6 delete_chat: "empty ancestor directories up to the dataset
// root are removed").
func removeEmptyAncestors(storageRoot, dir string) {
	for {
		clean := filepath.Clean(dir)
		if clean == filepath.Clean(storageRoot) || clean == "." || clean == string(filepath.Separator) {
			return
		}
		entries, err := os.ReadDir(clean)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(clean); err != nil {
			return
		}
		dir = filepath.Dir(clean)
	}
}

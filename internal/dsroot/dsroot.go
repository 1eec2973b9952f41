// Package dsroot implements Component B: the dataset root and media
// store (spec §3.4, §4.2.3). It maps relative media paths to absolute
// files under a per-dataset directory, knows which subtrees are
// content-addressed, and provides the copy-file protocol used by the
// store and the merger.
package dsroot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/wesm/chatvault/internal/apperr"
	"github.com/wesm/chatvault/internal/fileutil"
	"github.com/wesm/chatvault/internal/model"
)

// Subtree names under a chat or user directory (spec §4.2.3).
const (
	SubtreePhotos       = "photos"
	SubtreeStickers     = "stickers"
	SubtreeVideoMsgs     = "video_messages"
	SubtreeVideos       = "videos"
	SubtreeAudios       = "audios"
	SubtreeVoiceMsgs    = "voice_messages"
	SubtreeFiles        = "files"
	SubtreeProfilePics  = "profile_pictures"
)

// hashedSubtrees are content-addressed with a two-character fan-out
// directory; the rest keep the source filename (spec §4.2.3).
var hashedSubtrees = map[string]bool{
	SubtreePhotos:      true,
	SubtreeStickers:    true,
	SubtreeVideoMsgs:   true,
	SubtreeVideos:      true,
	SubtreeAudios:      true,
	SubtreeProfilePics: true,
}

// IsHashedSubtree reports whether subtree uses content-addressed
// storage.
func IsHashedSubtree(subtree string) bool { return hashedSubtrees[subtree] }

// Root resolves relative media paths for one dataset.
type Root struct {
	StorageRoot string // <storage_root>
	DsUUID      model.DatasetUUID
}

// New returns a Root for dataset ds under storageRoot.
func New(storageRoot string, ds model.DatasetUUID) *Root {
	return &Root{StorageRoot: storageRoot, DsUUID: ds}
}

// Dir is the dataset's own directory: <storage_root>/<ds_uuid>/.
func (r *Root) Dir() string {
	return filepath.Join(r.StorageRoot, r.DsUUID.String())
}

// ChatDir is <ds_root>/chat_<id>/.
func (r *Root) ChatDir(chat model.ChatID) string {
	return filepath.Join(r.Dir(), fmt.Sprintf("chat_%d", chat))
}

// UserDir is <ds_root>/user_<id>/.
func (r *Root) UserDir(user model.UserID) string {
	return filepath.Join(r.Dir(), fmt.Sprintf("user_%d", user))
}

// Abs resolves a relative path (as stored in the DB) to an absolute
// path under this dataset's root. It rejects paths that would escape
// the root (invariant 6, spec §3.3).
func (r *Root) Abs(relative string) (string, error) {
	clean := filepath.Clean(relative)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", apperr.Invalid("relative media path %q escapes dataset root", relative)
	}
	return filepath.Join(r.Dir(), clean), nil
}

// Exists reports whether the file at the given relative path exists.
// A missing file is not an error (spec §3.4, §7 FS/IO): the caller
// renders it as "missing" at read time.
func (r *Root) Exists(relative string) bool {
	abs, err := r.Abs(relative)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// HashFile computes the sha256 of a file's full contents, for content
// addressing and for practical-equality byte comparison.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashedRelativePath computes the spec §4.2.3 relative path for a
// content-addressed subtree entry: <subtree>/<h0h1>/<rest>.<ext>,
// fanned out on the first two hex characters of the content hash.
func HashedRelativePath(base, subtree, hash, ext string) string {
	if len(hash) < 2 {
		hash = hash + strings.Repeat("0", 2-len(hash))
	}
	name := hash[2:]
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(base, subtree, hash[:2], name)
}

// NonHashedRelativePath computes the relative path for a non-hashed
// subtree entry, which keeps the source filename.
func NonHashedRelativePath(base, subtree, fileName string) string {
	return filepath.Join(base, subtree, fileName)
}

// ThumbnailRelativePath returns the sibling thumbnail path for a main
// file whose relative path is mainRelative: "<name>_thumb.<ext>" next
// to "<name>.<ext>" (spec §4.2.3). Thumbnails are never hashed
// independently.
func ThumbnailRelativePath(mainRelative string) string {
	dir := filepath.Dir(mainRelative)
	base := filepath.Base(mainRelative)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return filepath.Join(dir, stem+"_thumb"+ext)
}

// CopyFile implements the copy-file protocol of spec §4.2.4: resolve
// the source absolute path (missing ⇒ logged, caller stores None,
// never a hard failure); create parents; skip hashed-subtree
// destinations that already exist (trusting the hash); fail on a
// non-hashed collision with differing content; otherwise copy bytes.
func CopyFile(srcRoot *Root, srcRelative string, dstRoot *Root, dstRelative string, subtree string, logger *slog.Logger) error {
	srcAbs, err := srcRoot.Abs(srcRelative)
	if err != nil {
		return err
	}
	if _, err := os.Stat(srcAbs); err != nil {
		if logger != nil {
			logger.Warn("media file missing at copy source, storing as missing", "path", srcAbs)
		}
		return nil
	}

	dstAbs, err := dstRoot.Abs(dstRelative)
	if err != nil {
		return err
	}
	if err := fileutil.SecureMkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return apperr.WrapFS(err, "create parent directories for %s", dstAbs)
	}

	if _, err := os.Stat(dstAbs); err == nil {
		if IsHashedSubtree(subtree) {
			// Content-addressed: trust the hash, skip the copy.
			return nil
		}
		same, err := filesEqual(srcAbs, dstAbs)
		if err != nil {
			return apperr.WrapFS(err, "compare existing destination file %s", dstAbs)
		}
		if !same {
			return apperr.FS("non-hashed destination file %s already exists with different content", dstAbs)
		}
		return nil
	}

	return copyBytes(srcAbs, dstAbs)
}

func copyBytes(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return apperr.WrapFS(err, "open source file %s", src)
	}
	defer in.Close()

	out, err := fileutil.SecureOpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apperr.WrapFS(err, "create destination file %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apperr.WrapFS(err, "copy file contents to %s", dst)
	}
	return nil
}

func filesEqual(a, b string) (bool, error) {
	ha, err := HashFile(a)
	if err != nil {
		return false, err
	}
	hb, err := HashFile(b)
	if err != nil {
		return false, err
	}
	return ha == hb, nil
}

package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	ChecksumMD5    = "md5"
	ChecksumSHA1   = "sha1"
	ChecksumSHA256 = "sha256"
	ChecksumSHA512 = "sha512"

	DefaultChecksumType = ChecksumSHA256
)

// NewHash returns a hasher for the checksum type. An empty type means DefaultChecksumType.
func NewHash(checksumType string) (hash.Hash, error) {
	switch strings.ToLower(checksumType) {
	case ChecksumMD5:
		return md5.New(), nil
	case ChecksumSHA1:
		return sha1.New(), nil
	case ChecksumSHA256, "":
		return sha256.New(), nil
	case ChecksumSHA512:
		return sha512.New(), nil
	}

	return nil, fmt.Errorf("unsupported checksum type: %s", checksumType)
}

func NormalizeChecksumType(checksumType string) string {
	if checksumType == "" {
		return DefaultChecksumType
	}

	return strings.ToLower(checksumType)
}

func ChecksumFile(fs afero.Fs, path, checksumType string) (string, error) {
	h, err := NewHash(checksumType)
	if err != nil {
		return "", err
	}

	f, err := fs.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("cannot read %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

/*
CopyFile copies src from srcFs to dst on dstFs and returns the checksum of the
copied bytes. The data goes to dst+".tmp" first and is renamed into place, so a
reader never sees a partial dst.
*/
func CopyFile(srcFs afero.Fs, src string, dstFs afero.Fs, dst, checksumType string) (string, error) {
	h, err := NewHash(checksumType)
	if err != nil {
		return "", err
	}

	in, err := srcFs.Open(src)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %w", src, err)
	}
	defer in.Close()

	if err := dstFs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("cannot create directory for %s: %w", dst, err)
	}

	tmpPath := dst + ".tmp"
	out, err := dstFs.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("cannot create %s: %w", tmpPath, err)
	}

	if _, err := io.Copy(io.MultiWriter(out, h), in); err != nil {
		out.Close()
		dstFs.Remove(tmpPath)

		return "", fmt.Errorf("cannot copy %s: %w", src, err)
	}

	if err := out.Close(); err != nil {
		dstFs.Remove(tmpPath)

		return "", fmt.Errorf("cannot close %s: %w", tmpPath, err)
	}

	if err := dstFs.Rename(tmpPath, dst); err != nil {
		dstFs.Remove(tmpPath)

		return "", fmt.Errorf("cannot rename %s: %w", tmpPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func FileExists(fs afero.Fs, path string) bool {
	if path == "" {
		return false
	}

	stat, err := fs.Stat(path)
	if err != nil {
		return false
	}

	return !stat.IsDir()
}

func DirExists(fs afero.Fs, path string) bool {
	if path == "" {
		return false
	}

	ok, err := afero.DirExists(fs, path)

	return err == nil && ok
}

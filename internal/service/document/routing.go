package document

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxNameLength   = 200
	maxSuffixProbes = 100000
	reservedChars   = `<>:"/\|?*`
)

var ErrNoFreeName = errors.New("no free destination name")

// SanitizeName makes a classification value safe to use as a file stem.
// Reserved and control characters become "_"; an empty result means the
// value is unusable.
func SanitizeName(value string) string {
	mapped := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(reservedChars, r) {
			return '_'
		}
		return r
	}, value)

	name := strings.Trim(mapped, " .")
	for len(name) > maxNameLength {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	if strings.Trim(name, "_") == "" {
		return ""
	}
	return name
}

// CandidateName returns "<stem><ext>" for n == 0 and "<stem>_<n><ext>" otherwise.
func CandidateName(stem, ext string, n int) string {
	if n == 0 {
		return stem + ext
	}
	return fmt.Sprintf("%s_%d%s", stem, n, ext)
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CopyNoClobber copies src into dir under the first free name in the
// "<stem><ext>", "<stem>_1<ext>", ... sequence and returns the final path.
// The bytes are fsynced under a temporary name and then hard-linked into
// place, so an existing file is never overwritten and a reader never sees a
// partial file.
func CopyNoClobber(src, dir, stem, ext string) (string, error) {
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.part", stem, uuid.NewString()))
	if err := copyDurable(src, tmp); err != nil {
		os.Remove(tmp)
		return "", err
	}
	defer os.Remove(tmp)

	for n := 0; n < maxSuffixProbes; n++ {
		dst := filepath.Join(dir, CandidateName(stem, ext, n))
		err := os.Link(tmp, dst)
		if err == nil {
			syncDir(dir)
			return dst, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("link %s: %w", dst, err)
		}
	}
	return "", fmt.Errorf("%w: %s%s in %s", ErrNoFreeName, stem, ext, dir)
}

func copyDurable(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", dst, cerr)
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

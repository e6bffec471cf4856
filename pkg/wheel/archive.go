// SPDX-License-Identifier: MPL-2.0

package wheel

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ErrUnsafePath is returned when an archive entry would escape the
// extraction directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

// Unpack extracts the wheel at archivePath into dest and returns the
// slash-separated paths of every regular file, sorted.
func Unpack(archivePath, dest string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open wheel %s: %w", archivePath, err)
	}
	defer func() { _ = r.Close() }() // Read-only archive; close error non-critical

	var files []string
	for _, zf := range r.File {
		name := path.Clean(zf.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return nil, fmt.Errorf("%w: %s", ErrUnsafePath, zf.Name)
		}
		target := filepath.Join(dest, filepath.FromSlash(name))

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, err
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return nil, err
		}
		files = append(files, name)
	}

	sort.Strings(files)
	return files, nil
}

func extractFile(zf *zip.File, target string) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := zf.Open()
	if err != nil {
		return fmt.Errorf("read %s: %w", zf.Name, err)
	}
	defer func() { _ = src.Close() }()

	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	return nil
}

// Pack writes the directory srcDir as a wheel at archivePath. RECORD inside
// distInfo is regenerated from the directory contents. Entries are written in
// sorted order with the .dist-info directory last.
func Pack(srcDir, archivePath, distInfo string) (err error) {
	files, err := listFiles(srcDir)
	if err != nil {
		return err
	}

	recordPath := path.Join(distInfo, "RECORD")
	record, err := buildRecord(srcDir, files, recordPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(srcDir, filepath.FromSlash(recordPath)), record, 0o644); err != nil {
		return fmt.Errorf("write RECORD: %w", err)
	}
	if !containsString(files, recordPath) {
		files = append(files, recordPath)
	}

	sort.SliceStable(files, func(i, j int) bool {
		iMeta := strings.HasPrefix(files[i], distInfo+"/")
		jMeta := strings.HasPrefix(files[j], distInfo+"/")
		if iMeta != jMeta {
			return !iMeta
		}
		return files[i] < files[j]
	})

	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	zw := zip.NewWriter(out)
	for _, name := range files {
		if err := addFile(zw, srcDir, name); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, srcDir, name string) error {
	full := filepath.Join(srcDir, filepath.FromSlash(name))
	info, err := os.Stat(full)
	if err != nil {
		return err
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(w, f)
	return err
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// buildRecord renders the RECORD manifest: "path,sha256=<digest>,size" per
// file and an empty hash and size for RECORD itself.
func buildRecord(root string, files []string, recordPath string) ([]byte, error) {
	var b strings.Builder
	for _, name := range files {
		if name == recordPath {
			continue
		}
		digest, size, err := FileDigest(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			return nil, err
		}
		b.WriteString(csvField(name) + ",sha256=" + digest + "," + strconv.FormatInt(size, 10) + "\n")
	}
	b.WriteString(csvField(recordPath) + ",,\n")
	return []byte(b.String()), nil
}

// FileDigest returns the RECORD-style digest (urlsafe base64, no padding) of
// a file's sha256 and its size.
func FileDigest(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), n, nil
}

func csvField(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/combostatic/internal/pathutil"
	"github.com/keithlinneman/combostatic/internal/xerrors"
)

const (
	maxBundleSize   int64 = 50 << 20
	maxSingleFile   int64 = 10 << 20
	maxTotalExtract int64 = 100 << 20
)

// readWithHash reads r up to maxSize bytes and returns the data with its
// hex SHA-256.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("bundle exceeds %d bytes", maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// entryPath maps an archive member name to a path under dst. Absolute names,
// ".." segments and anything resolving outside dst are refused.
func entryPath(dst, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", xerrors.Newf("nul byte in archive path %q", name)
	}
	clean := path.Clean(strings.TrimPrefix(name, "./"))
	if path.IsAbs(clean) || pathutil.HasDotSegments(clean) {
		return "", xerrors.Newf("unsafe archive path %q", name)
	}
	target := filepath.Join(dst, filepath.FromSlash(clean))
	if !pathutil.Within(dst, target) {
		return "", xerrors.Newf("archive path %q escapes destination", name)
	}
	return target, nil
}

// extractTarGz writes regular files and directories from data into dst,
// which must exist. Links, devices and fifos are refused.
func extractTarGz(data []byte, dst string) (files int, err error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return 0, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	var total int64
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return files, xerrors.Wrap(err, "read tar header")
		}
		if c := path.Clean(hdr.Name); c == "." || c == "/" {
			continue
		}
		target, err := entryPath(dst, hdr.Name)
		if err != nil {
			return files, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, xerrors.Wrapf(err, "mkdir %s", hdr.Name)
			}
		case tar.TypeReg:
			if hdr.Size > maxSingleFile {
				return files, xerrors.Newf("%s exceeds %d bytes", hdr.Name, maxSingleFile)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, xerrors.Wrapf(err, "mkdir for %s", hdr.Name)
			}
			n, err := writeFile(target, tr)
			if err != nil {
				return files, err
			}
			total += n
			if total > maxTotalExtract {
				return files, xerrors.Newf("bundle expands past %d bytes", maxTotalExtract)
			}
			files++
		default:
			return files, xerrors.Newf("unsupported archive entry %s (type %q)", hdr.Name, hdr.Typeflag)
		}
	}
}

// writeFile creates path read-only for group and other and copies at most
// maxSingleFile bytes into it.
func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, xerrors.Wrapf(err, "create %s", path)
	}
	n, err := io.Copy(f, io.LimitReader(r, maxSingleFile+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, xerrors.Wrapf(err, "write %s", path)
	}
	if n > maxSingleFile {
		return n, xerrors.Newf("%s exceeds %d bytes", path, maxSingleFile)
	}
	return n, nil
}

package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keithlinneman/combostatic/internal/cryptoutil"
)

// ---------------------------------------------------------------------------
// archive helpers
// ---------------------------------------------------------------------------

type entry struct {
	name     string
	body     string
	typeflag byte
}

func makeTarGz(t *testing.T, entries ...entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o640, Typeflag: e.typeflag}
		switch e.typeflag {
		case 0, tar.TypeReg:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		case tar.TypeSymlink, tar.TypeLink:
			hdr.Linkname = "/etc/passwd"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header %q: %v", e.name, err)
		}
		if hdr.Size > 0 {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("tar body %q: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}

// ---------------------------------------------------------------------------
// readWithHash
// ---------------------------------------------------------------------------

func TestReadWithHash(t *testing.T) {
	data, sum, err := readWithHash(strings.NewReader("a{}"), 3)
	if err != nil || string(data) != "a{}" {
		t.Fatalf("data = %q err = %v", data, err)
	}
	if sum != cryptoutil.SHA256Hex([]byte("a{}")) {
		t.Fatalf("sum = %q", sum)
	}

	if _, _, err := readWithHash(strings.NewReader("abcd"), 3); err == nil {
		t.Fatal("read past limit accepted")
	}
}

// ---------------------------------------------------------------------------
// entryPath
// ---------------------------------------------------------------------------

func TestEntryPath(t *testing.T) {
	dst := t.TempDir()
	tests := []struct {
		name string
		ok   bool
	}{
		{"a.css", true},
		{"./lib/x.js", true},
		{"lib//y.js", true},
		{"../escape.css", false},
		{"lib/../../escape.css", false},
		{"/etc/passwd", false},
		{"a\x00b", false},
	}
	for _, tc := range tests {
		got, err := entryPath(dst, tc.name)
		if (err == nil) != tc.ok {
			t.Errorf("entryPath(%q) err = %v, want ok=%v", tc.name, err, tc.ok)
			continue
		}
		if tc.ok && !strings.HasPrefix(got, dst+string(os.PathSeparator)) {
			t.Errorf("entryPath(%q) = %q outside %q", tc.name, got, dst)
		}
	}
}

func FuzzEntryPath(f *testing.F) {
	for _, s := range []string{"a.css", "../x", "/abs", "a/./b", "..", "a/.."} {
		f.Add(s)
	}
	dst := f.TempDir()
	f.Fuzz(func(t *testing.T, name string) {
		got, err := entryPath(dst, name)
		if err != nil {
			return
		}
		if !strings.HasPrefix(got, dst) {
			t.Fatalf("entryPath(%q) = %q escapes %q", name, got, dst)
		}
	})
}

// ---------------------------------------------------------------------------
// extractTarGz
// ---------------------------------------------------------------------------

func TestExtractTarGz(t *testing.T) {
	dst := t.TempDir()
	data := makeTarGz(t,
		entry{name: "./", typeflag: tar.TypeDir},
		entry{name: "lib/", typeflag: tar.TypeDir},
		entry{name: "a.css", body: "a{}"},
		entry{name: "lib/x.js", body: "var x;"},
		entry{name: "deep/nested/y.js", body: "var y;"},
		entry{name: "empty.css"},
	)

	n, err := extractTarGz(data, dst)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n != 4 {
		t.Fatalf("files = %d, want 4", n)
	}
	if got := readFile(t, filepath.Join(dst, "lib", "x.js")); got != "var x;" {
		t.Fatalf("lib/x.js = %q", got)
	}
	if got := readFile(t, filepath.Join(dst, "deep", "nested", "y.js")); got != "var y;" {
		t.Fatalf("deep/nested/y.js = %q", got)
	}
	fi, err := os.Stat(filepath.Join(dst, "a.css"))
	if err != nil || fi.Mode().Perm() != 0o644 {
		t.Fatalf("a.css mode = %v err = %v", fi.Mode(), err)
	}
}

func TestExtractTarGz_Rejects(t *testing.T) {
	tests := map[string][]byte{
		"symlink":   makeTarGz(t, entry{name: "link.css", typeflag: tar.TypeSymlink}),
		"hardlink":  makeTarGz(t, entry{name: "link.css", typeflag: tar.TypeLink}),
		"fifo":      makeTarGz(t, entry{name: "pipe", typeflag: tar.TypeFifo}),
		"traversal": makeTarGz(t, entry{name: "../../escape.css", body: "x"}),
		"absolute":  makeTarGz(t, entry{name: "/tmp/abs.css", body: "x"}),
		"duplicate": makeTarGz(t, entry{name: "a.css", body: "1"}, entry{name: "a.css", body: "2"}),
		"not gzip":  []byte("plain text"),
	}
	for name, data := range tests {
		if _, err := extractTarGz(data, t.TempDir()); err == nil {
			t.Errorf("%s: extract succeeded", name)
		}
	}
}

func TestExtractTarGz_OversizedFile(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	_ = tw.WriteHeader(&tar.Header{Name: "huge.js", Mode: 0o644, Size: maxSingleFile + 1, Typeflag: tar.TypeReg})
	tw.Close()
	gw.Close()

	if _, err := extractTarGz(buf.Bytes(), t.TempDir()); err == nil {
		t.Fatal("oversized header accepted")
	}
}

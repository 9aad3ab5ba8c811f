package denylist

import (
	"bytes"
	_ "embed"
	"io"
	"os"
)

//go:embed assets/cookie_hosts.txt
var bundledHosts []byte

// Source supplies the raw denylist text.
type Source interface {
	Open() (io.ReadCloser, error)
	Name() string
}

// BundledSource reads the host list shipped inside the binary.
type BundledSource struct{}

func (BundledSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(bundledHosts)), nil
}

func (BundledSource) Name() string { return "bundled:cookie_hosts.txt" }

// FileSource reads the host list from a file on disk.
type FileSource struct {
	Path string
}

func (f FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f FileSource) Name() string { return "file:" + f.Path }

// SourceFor returns a FileSource for a non-empty path and the bundled asset
// otherwise.
func SourceFor(path string) Source {
	if path == "" {
		return BundledSource{}
	}
	return FileSource{Path: path}
}

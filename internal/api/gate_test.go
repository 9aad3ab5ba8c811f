package api

import (
	"io"
	"strings"
)

// gate is a denylist source whose Open blocks until the channel closes.
type gate chan struct{}

func (g gate) Open() (io.ReadCloser, error) {
	<-g
	return io.NopCloser(strings.NewReader("")), nil
}

func (gate) Name() string { return "gate" }

package topology

import (
	"bytes"
	_ "embed"
)

//go:embed static.toml
var staticTOML []byte

// Static returns the built-in default topology, used when the host
// supplies none.
func Static() (*Document, error) {
	return Parse(bytes.NewReader(staticTOML))
}

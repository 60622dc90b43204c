package scopedb

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

const (
	// SavepointNameLen is the length of every generated savepoint name.
	SavepointNameLen = 1 + 2*savepointHexBytes

	savepointHexBytes = 8
	savepointChunk    = 1 + savepointHexBytes
	savepointPoolSize = 4096
)

// identStart holds the characters allowed to open an unquoted identifier.
const identStart = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_"

// nameGenerator hands out savepoint names carved from a buffer of random
// bytes that is refilled only once exhausted.
type nameGenerator struct {
	mu     sync.Mutex
	source io.Reader
	buf    []byte
	off    int
}

func newNameGenerator(source io.Reader) *nameGenerator {
	if source == nil {
		source = rand.Reader
	}
	return &nameGenerator{
		source: source,
		buf:    make([]byte, savepointPoolSize-savepointPoolSize%savepointChunk),
		off:    savepointPoolSize, // empty, filled on first use
	}
}

// next returns a fresh name such as "Kd41f0c9e2a7b3355".
func (g *nameGenerator) next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.off+savepointChunk > len(g.buf) {
		if _, err := io.ReadFull(g.source, g.buf); err != nil {
			return "", fmt.Errorf("scopedb: reading savepoint entropy: %w", err)
		}
		g.off = 0
	}

	chunk := g.buf[g.off : g.off+savepointChunk]
	g.off += savepointChunk

	name := make([]byte, SavepointNameLen)
	name[0] = identStart[int(chunk[0])%len(identStart)]
	hex.Encode(name[1:], chunk[1:])
	return string(name), nil
}

// Package localid generates temporary identifiers for rows created
// while the device is offline.
//
// A temporary identifier is distinguishable from a server-issued UUID
// by construction: it always starts with the reserved "local_" prefix,
// followed by the creation timestamp and a random suffix. The server
// never issues identifiers with this prefix, so a simple prefix check
// tells the push path whether a row has ever been accepted remotely.
package localid

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// Prefix is the reserved marker for locally-generated identifiers.
// Server-issued identifiers are UUIDs and never carry it.
const Prefix = "local_"

// New returns a fresh temporary identifier of the form
// local_<unixSeconds>_<8 hex chars>.
//
// Generation is pure and side-effect free. The timestamp plus four
// bytes of entropy make an in-process collision vanishingly unlikely
// even when many rows are created within the same second.
func New() string {
	var suffix [4]byte
	// rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%s%d_%x", Prefix, time.Now().Unix(), suffix)
}

// IsLocal reports whether id is a temporary identifier that has not
// yet been replaced by a server-issued one.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, Prefix)
}

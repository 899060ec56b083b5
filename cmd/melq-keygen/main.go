// Command melq-keygen previews what a freshly started node would look
// like: a random node identifier and a KEM keypair fingerprint. Identity
// is ephemeral and generated fresh by every `melq host`/`melq join`
// invocation (nothing is persisted across restarts), so unlike the
// teacher's keygen subcommand this writes nothing to disk — it exists
// purely so an operator can preview the shape of an identity before
// starting a node.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/melq/melq/internal/identity"
)

func main() {
	id, err := identity.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "melq-keygen: %v\n", err)
		os.Exit(1)
	}

	fingerprint := sha256.Sum256(id.KeyPair.PublicSeed)
	fmt.Printf("node id:     %s\n", id.ID)
	fmt.Printf("kem pubkey:  %d bytes\n", len(id.KeyPair.PublicSeed))
	fmt.Printf("fingerprint: %s\n", hex.EncodeToString(fingerprint[:16]))
}

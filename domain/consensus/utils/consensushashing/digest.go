package consensushashing

import (
	"golang.org/x/crypto/blake2b"

	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// BlockDigest returns the BLAKE2b-256 hash of a block's content encoding
func BlockDigest(content []byte) model.BlockDigest {
	return blake2b.Sum256(content)
}

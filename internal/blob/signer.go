package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// LocalSigner stands in for a wallet. It executes nothing and returns a
// digest derived from the transaction and a per-signer counter.
type LocalSigner struct {
	n atomic.Uint64
}

func (s *LocalSigner) SignAndExecute(_ context.Context, tx Transaction) (string, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("encode transaction: %w", err)
	}
	sum := sha256.Sum256(fmt.Appendf(body, "#%d", s.n.Add(1)))
	return hex.EncodeToString(sum[:]), nil
}

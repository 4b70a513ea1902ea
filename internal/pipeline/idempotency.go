package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/omnigate/omnigate/internal/model"
)

// IdempotencyKey derives the deterministic key that collapses duplicate
// retries of the same logical order request. When the caller supplies no
// nonce, the request timestamp truncated to one second stands in, so rapid
// retries of the same request hash identically.
func IdempotencyKey(req model.OrderRequest) string {
	nonce := req.Nonce
	if nonce == "" {
		// Unix() truncates to whole seconds, which is the bucket size.
		nonce = strconv.FormatInt(req.RequestedAt.UTC().Unix(), 10)
	}
	parts := []string{
		req.TenantID,
		req.BrokerID,
		req.UserID,
		req.Symbol,
		string(req.Side),
		req.Amount.String(),
		req.Price.String(),
		nonce,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

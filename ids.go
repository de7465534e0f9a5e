package halo

import (
	"crypto/sha256"
	"fmt"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/google/uuid"
)

// deriveID returns a stable identifier for parts: the canonical JSON of parts
// is hashed and folded into a name-based UUID, so equal inputs always produce
// the same id regardless of map ordering.
func deriveID(prefix string, parts ...any) (string, error) {
	canonical, err := canonicaljson.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("halo: canonicalize id material: %w", err)
	}
	digest := sha256.Sum256(canonical)
	id := uuid.NewSHA1(uuid.NameSpaceOID, digest[:])
	return prefix + "_" + id.String(), nil
}

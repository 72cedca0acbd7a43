package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// hashInputs fingerprints the declared properties of a resource. The hash
// is recorded in state when a resource is applied and checked at plan
// time, so an unchanged declaration plans no work regardless of how a
// provider shapes its recorded outputs.
func hashInputs(props map[string]any) string {
	data, err := json.Marshal(normalizeValue(props))
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

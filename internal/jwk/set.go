package jwk

import (
	"encoding/json"
	"fmt"
)

// ParseSet decodes a JWKS document. A document that is not a JSON object with a
// keys array fails as a whole; an entry that cannot be read as a key is
// reported in skipped and the remaining entries are still returned.
func ParseSet(data []byte) (keys []JSONWebKey, skipped []error, err error) {
	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("failed to decode JWKS document: %w", err)
	}
	if raw.Keys == nil {
		return nil, nil, fmt.Errorf("failed to decode JWKS document: missing keys array")
	}

	keys = make([]JSONWebKey, 0, len(raw.Keys))
	for i, entry := range raw.Keys {
		var k JSONWebKey
		if err := json.Unmarshal(entry, &k); err != nil {
			skipped = append(skipped, fmt.Errorf("%w: entry %d: %w", ErrMalformedKey, i, err))
			continue
		}
		keys = append(keys, k)
	}
	return keys, skipped, nil
}

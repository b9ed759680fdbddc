package credstore

import (
	"strings"

	"github.com/signalix/gateway/internal/protocol"
)

// CredsRecordKey names the row holding the root credentials.
const CredsRecordKey = "creds.json"

const recordSuffix = ".json"

// RecordKey returns the row key used for a bucket of key material.
func RecordKey(kind protocol.KeyKind) string {
	return string(kind) + recordSuffix
}

// KindFromRecordKey maps a stored row key back to its bucket kind. It
// reports false for the root record and for names outside the known
// vocabulary.
func KindFromRecordKey(key string) (protocol.KeyKind, bool) {
	name, ok := strings.CutSuffix(key, recordSuffix)
	if !ok {
		return "", false
	}
	return protocol.ParseKeyKind(name)
}

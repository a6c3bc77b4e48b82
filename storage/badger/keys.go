package badger

import (
	"fmt"

	"github.com/poiesic/regdex/core"
)

// Key prefixes for different data types
const (
	docRecordPrefix  = "docrec"
	docStatusPrefix  = "docstat"
	docHistoryPrefix = "dochist"
)

// makeDocRecordKey generates a key for a document record by id.
func makeDocRecordKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", docRecordPrefix, id))
}

// makeDocStatusKey generates a composite key for the status index.
// Format is prefix:status:id, so ids under one status sort lexicographically.
func makeDocStatusKey(status core.Status, id string) []byte {
	return []byte(fmt.Sprintf("%s:%02d:%s", docStatusPrefix, int(status), id))
}

// makePartialDocStatusKey generates a prefix for scanning one status.
func makePartialDocStatusKey(status core.Status) []byte {
	return []byte(fmt.Sprintf("%s:%02d:", docStatusPrefix, int(status)))
}

// makeDocHistoryKey generates a key for a superseded version snapshot.
func makeDocHistoryKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%06d", docHistoryPrefix, id, version))
}

// idFromStatusKey recovers the record id from a status index key.
func idFromStatusKey(key []byte, status core.Status) string {
	prefix := makePartialDocStatusKey(status)
	if len(key) <= len(prefix) {
		return ""
	}
	return string(key[len(prefix):])
}

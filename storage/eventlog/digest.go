package eventlog

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"lukechampine.com/blake3"
)

// digest hashes the record payload together with the previous digest.
func digest(prev, eventType, account string, attrs map[string]string, createdAt int64) string {
	var buf bytes.Buffer
	writeDelimited(&buf, []byte(prev))
	writeDelimited(&buf, []byte(eventType))
	writeDelimited(&buf, []byte(account))

	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		writeDelimited(&buf, []byte(key))
		writeDelimited(&buf, []byte(attrs[key]))
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	buf.Write(ts[:])

	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))
	buf.Write(length[:])
	buf.Write(data)
}

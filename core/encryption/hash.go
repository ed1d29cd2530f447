package encryption

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

/*Hash - hash the given data and return the hash as hex string */
func Hash(data string) string {
	return hex.EncodeToString(RawHash(data))
}

/*RawHash - Logic to hash the text and return the hash bytes */
func RawHash(data string) []byte {
	hash := sha3.New256()
	hash.Write([]byte(data))
	var buf []byte
	return hash.Sum(buf)
}

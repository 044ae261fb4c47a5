package consensus

import (
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	hashBytes = 32
	addrBytes = 20
)

// Hash is the Keccak-256 hash of a piece of data.
type Hash [hashBytes]byte

// Addr is the address of a validator, the last 20 bytes of the
// Keccak-256 hash of its uncompressed public key.
type Addr [addrBytes]byte

// ZeroAddr is the empty address.
var ZeroAddr = Addr{}

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:4])
}

// Hex returns the full hex representation of the hash.
func (h Hash) Hex() string {
	return fmt.Sprintf("%x", h[:])
}

// Addr returns the address associated to the hash.
func (h Hash) Addr() Addr {
	var addr Addr
	copy(addr[:], h[hashBytes-addrBytes:])
	return addr
}

func (a Addr) String() string {
	return fmt.Sprintf("%x", a[:4])
}

// Hex returns the full hex representation of the address.
func (a Addr) Hex() string {
	return fmt.Sprintf("%x", a[:])
}

func hash(b ...[]byte) Hash {
	d := sha3.NewLegacyKeccak256()
	for _, e := range b {
		_, err := d.Write(e)
		if err != nil {
			// should not happen
			panic(err)
		}
	}
	var h Hash
	d.Sum(h[:0])
	return h
}

// SHA3 returns the Keccak-256 hash of the concatenated inputs.
func SHA3(b ...[]byte) Hash {
	return hash(b...)
}

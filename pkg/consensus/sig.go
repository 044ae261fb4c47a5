package consensus

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const sigBytes = 65

var errInvalidSig = errors.New("invalid signature")

// Sig is a recoverable secp256k1 signature: R || S || V.
type Sig []byte

// Signer signs digests on behalf of the local validator.
type Signer interface {
	Addr() Addr
	Sign(h Hash) (Sig, error)
}

type keySigner struct {
	key  *ecdsa.PrivateKey
	addr Addr
}

// NewSigner returns a Signer backed by the private key.
func NewSigner(key *ecdsa.PrivateKey) Signer {
	return &keySigner{key: key, addr: PubkeyToAddr(&key.PublicKey)}
}

func (s *keySigner) Addr() Addr {
	return s.addr
}

func (s *keySigner) Sign(h Hash) (Sig, error) {
	sig, err := crypto.Sign(h[:], s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign digest")
	}

	return Sig(sig), nil
}

// PubkeyToAddr returns the address of the public key.
func PubkeyToAddr(pk *ecdsa.PublicKey) Addr {
	return Addr(crypto.PubkeyToAddress(*pk))
}

// RecoverAddr recovers the address that produced sig over h.
func RecoverAddr(h Hash, sig Sig) (Addr, error) {
	if len(sig) != sigBytes {
		return Addr{}, errInvalidSig
	}

	pk, err := crypto.SigToPub(h[:], sig)
	if err != nil {
		return Addr{}, errors.Wrap(errInvalidSig, err.Error())
	}

	return PubkeyToAddr(pk), nil
}

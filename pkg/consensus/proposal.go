package consensus

import (
	"github.com/pkg/errors"
)

var (
	errNotProposer      = errors.New("sender is not the proposer")
	errWrongParent      = errors.New("block does not extend the chain head")
	errMissingRCCert    = errors.New("missing round change certificate")
	errInvalidRCCert    = errors.New("invalid round change certificate")
	errInvalidPrepared  = errors.New("invalid prepared certificate")
	errLockedBlock      = errors.New("proposal does not re-propose the highest prepared block")
	errDuplicateSender  = errors.New("duplicate sender")
	errMismatchedDigest = errors.New("mismatched digest")
	errInvalidBlock     = errors.New("invalid block")
	errSealedProposal   = errors.New("proposed block carries a round or commit seals")
	errProposerField    = errors.New("block proposer is not the sender")
)

// VerifyBlock checks the block against its parent: number, parent
// hash, time, transaction root, the proposer membership and the
// validator list, which must be the parent's. Commit seals are not
// checked.
func VerifyBlock(b *Block, parent *Header) error {
	if b == nil || b.Header == nil {
		return errors.Wrap(errInvalidBlock, "missing header")
	}

	h := b.Header
	if h.Number != parent.Number+1 || h.ParentHash != parent.Hash() {
		return errors.Wrapf(errWrongParent, "block %d parent %v, head %d %v", h.Number, h.ParentHash, parent.Number, parent.Hash())
	}

	if h.Time <= parent.Time {
		return errors.Wrapf(errInvalidBlock, "time %d is not after parent time %d", h.Time, parent.Time)
	}

	if h.TxRoot != TxRoot(b.Txns) {
		return errors.Wrap(errInvalidBlock, "transaction root mismatch")
	}

	pe, err := DecodeExtra(parent.Extra)
	if err != nil {
		return errors.Wrap(errInvalidBlock, err.Error())
	}

	extra, err := DecodeExtra(h.Extra)
	if err != nil {
		return errors.Wrap(errInvalidBlock, err.Error())
	}

	if !sameAddrs(extra.Validators, pe.Validators) {
		return errors.Wrapf(errInvalidBlock, "validators %v, parent validators %v", extra.Validators, pe.Validators)
	}

	member := false
	for _, a := range pe.Validators {
		if a == h.Proposer {
			member = true
			break
		}
	}
	if !member {
		return errors.Wrapf(errInvalidBlock, "proposer %v is not a validator", h.Proposer)
	}

	return nil
}

func sameAddrs(a, b []Addr) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// verifyPreparedCertificate checks that c proves a block of the
// height was prepared by a quorum of vs in a round below the given
// round.
func verifyPreparedCertificate(c *PreparedCertificate, height uint64, below uint32, vs *ValidatorSet) error {
	if c.Block == nil || c.Block.Header == nil {
		return errors.Wrap(errInvalidPrepared, "missing block")
	}

	if c.Block.Number() != height {
		return errors.Wrapf(errInvalidPrepared, "block height %d, want %d", c.Block.Number(), height)
	}

	if c.Round >= below {
		return errors.Wrapf(errInvalidPrepared, "round %d is not below %d", c.Round, below)
	}

	digest := c.Block.Hash()
	seen := make(map[Addr]bool)
	for _, m := range c.Prepares {
		if m.Type != MsgPrepare || m.Height != height || m.Round != c.Round {
			return errors.Wrapf(errInvalidPrepared, "unexpected %v message at %v", m.Type, m.View())
		}

		err := authenticateWith(m, vs)
		if err != nil {
			return errors.Wrap(errInvalidPrepared, err.Error())
		}

		p, err := m.Prepare()
		if err != nil {
			return errors.Wrap(errInvalidPrepared, err.Error())
		}

		if p.Digest != digest {
			return errors.Wrap(errInvalidPrepared, errMismatchedDigest.Error())
		}

		if seen[m.from] {
			return errors.Wrap(errInvalidPrepared, errDuplicateSender.Error())
		}
		seen[m.from] = true
	}

	if len(seen) < vs.QuorumSize() {
		return errors.Wrapf(errInvalidPrepared, "got %d prepares, quorum %d", len(seen), vs.QuorumSize())
	}

	return nil
}

// verifyRoundChangeCertificate checks that rcs holds a quorum of
// round changes of vs for exactly the view, and returns the highest
// prepared certificate they carry, if any.
func verifyRoundChangeCertificate(rcs []*Message, v View, vs *ValidatorSet) (*PreparedCertificate, error) {
	if len(rcs) == 0 {
		return nil, errMissingRCCert
	}

	var highest *PreparedCertificate
	seen := make(map[Addr]bool)
	for _, m := range rcs {
		if m.Type != MsgRoundChange || m.View() != v {
			return nil, errors.Wrapf(errInvalidRCCert, "unexpected %v message at %v", m.Type, m.View())
		}

		err := authenticateWith(m, vs)
		if err != nil {
			return nil, errors.Wrap(errInvalidRCCert, err.Error())
		}

		if seen[m.from] {
			return nil, errors.Wrap(errInvalidRCCert, errDuplicateSender.Error())
		}
		seen[m.from] = true

		p, err := m.RoundChange()
		if err != nil {
			return nil, errors.Wrap(errInvalidRCCert, err.Error())
		}

		if p.Prepared == nil {
			continue
		}

		err = verifyPreparedCertificate(p.Prepared, v.Height, v.Round, vs)
		if err != nil {
			return nil, errors.Wrap(errInvalidRCCert, err.Error())
		}

		if highest == nil || p.Prepared.Round > highest.Round {
			highest = p.Prepared
		}
	}

	if len(seen) < vs.QuorumSize() {
		return nil, errors.Wrapf(errInvalidRCCert, "got %d round changes, quorum %d", len(seen), vs.QuorumSize())
	}

	return highest, nil
}

// verifyProposal checks an authenticated proposal against the
// validator set and the parent of its height.
func verifyProposal(m *Message, p *ProposalPayload, parent *Header, vs *ValidatorSet) error {
	if !vs.IsProposer(m.Height, m.Round, m.from) {
		return errors.Wrapf(errNotProposer, "sender %v, proposer %v", m.from, vs.Proposer(m.Height, m.Round))
	}

	b := p.Block
	err := VerifyBlock(b, parent)
	if err != nil {
		return err
	}

	if b.Number() != m.Height {
		return errors.Wrapf(errWrongParent, "block %d at height %d", b.Number(), m.Height)
	}

	extra, err := DecodeExtra(b.Header.Extra)
	if err != nil {
		return errors.Wrap(errInvalidBlock, err.Error())
	}

	if extra.Round != 0 || len(extra.Seals) > 0 {
		return errors.Wrapf(errSealedProposal, "round %d, %d seals", extra.Round, len(extra.Seals))
	}

	var highest *PreparedCertificate
	if m.Round > 0 {
		highest, err = verifyRoundChangeCertificate(p.RoundChanges, m.View(), vs)
		if err != nil {
			return err
		}
	}

	if highest != nil {
		if highest.Block.Hash() != b.Hash() {
			return errors.Wrapf(errLockedBlock, "proposed %v, prepared %v at round %d", b.Hash(), highest.Block.Hash(), highest.Round)
		}
		// a re-proposed block keeps the proposer that built it
		return nil
	}

	if b.Header.Proposer != m.from {
		return errors.Wrapf(errProposerField, "proposer %v, sender %v", b.Header.Proposer, m.from)
	}

	return nil
}

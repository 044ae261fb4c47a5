package consensus

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	errNotEnoughSeals = errors.New("not enough commit seals")
	errSealOrder      = errors.New("commit seals not in validator order")
)

// CommitSeal is the commit seal of one validator.
type CommitSeal struct {
	Signer Addr
	Seal   Sig
}

// Finalize returns a copy of the block with the round and the commit
// seals packed into the header extra data. The seals are ordered by
// the signer position in the validator set, seals from non validators
// and duplicate signers are skipped.
func Finalize(b *Block, round uint32, seals []CommitSeal, vs *ValidatorSet) (*Block, error) {
	extra, err := DecodeExtra(b.Header.Extra)
	if err != nil {
		return nil, err
	}

	type indexed struct {
		idx  int
		seal Sig
	}
	var sorted []indexed
	used := make(map[Addr]bool)
	for _, s := range seals {
		idx, ok := vs.Index(s.Signer)
		if !ok || used[s.Signer] {
			continue
		}

		used[s.Signer] = true
		sorted = append(sorted, indexed{idx: idx, seal: s.Seal})
	}

	if len(sorted) < vs.QuorumSize() {
		return nil, errors.Wrapf(errNotEnoughSeals, "got %d, quorum %d", len(sorted), vs.QuorumSize())
	}

	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].idx < sorted[j].idx
	})

	extra.Round = round
	extra.Seals = make([]Sig, len(sorted))
	for i, s := range sorted {
		extra.Seals[i] = append(Sig(nil), s.seal...)
	}

	h := b.Header.Copy()
	h.Extra = extra.Encode()
	txns := make([][]byte, len(b.Txns))
	copy(txns, b.Txns)
	return &Block{Header: h, Txns: txns}, nil
}

// VerifySeals checks that the header carries a quorum of valid commit
// seals from distinct validators of vs, in validator order.
func VerifySeals(h *Header, vs *ValidatorSet) error {
	extra, err := DecodeExtra(h.Extra)
	if err != nil {
		return err
	}

	digest := SealDigest(h.Hash(), extra.Round)
	last := -1
	for _, seal := range extra.Seals {
		addr, err := RecoverAddr(digest, seal)
		if err != nil {
			return errors.Wrap(err, "recover commit seal")
		}

		idx, ok := vs.Index(addr)
		if !ok {
			return errors.Wrapf(errNotValidator, "commit seal from %v", addr)
		}

		if idx <= last {
			return errSealOrder
		}
		last = idx
	}

	if len(extra.Seals) < vs.QuorumSize() {
		return errors.Wrapf(errNotEnoughSeals, "got %d, quorum %d", len(extra.Seals), vs.QuorumSize())
	}

	return nil
}

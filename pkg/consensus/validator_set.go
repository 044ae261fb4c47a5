package consensus

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const snapshotCacheSize = 128

// ErrUnknownValidatorSet is returned when the validator set of a
// height can not be resolved.
var ErrUnknownValidatorSet = errors.New("unknown validator set")

var errDuplicateValidator = errors.New("duplicate validator")

// ValidatorSet is the ordered set of validators of one height.
//
// It is immutable once created and safe for concurrent reads.
type ValidatorSet struct {
	list  []Addr
	index map[Addr]int
}

// NewValidatorSet creates a validator set, the order of addrs is the
// proposer rotation order.
func NewValidatorSet(addrs []Addr) (*ValidatorSet, error) {
	if len(addrs) == 0 {
		return nil, errors.New("empty validator set")
	}

	vs := &ValidatorSet{
		list:  make([]Addr, len(addrs)),
		index: make(map[Addr]int, len(addrs)),
	}
	for i, a := range addrs {
		if _, ok := vs.index[a]; ok {
			return nil, errors.Wrapf(errDuplicateValidator, "addr %s", a.Hex())
		}
		vs.list[i] = a
		vs.index[a] = i
	}

	return vs, nil
}

// Size returns the number of validators.
func (vs *ValidatorSet) Size() int {
	return len(vs.list)
}

// List returns a copy of the ordered validators.
func (vs *ValidatorSet) List() []Addr {
	return append([]Addr(nil), vs.list...)
}

// QuorumSize returns floor(2N/3)+1.
func (vs *ValidatorSet) QuorumSize() int {
	return 2*len(vs.list)/3 + 1
}

// F returns the maximum number of faulty validators tolerated,
// floor((N-1)/3).
func (vs *ValidatorSet) F() int {
	return (len(vs.list) - 1) / 3
}

// Contains returns true if addr is a validator.
func (vs *ValidatorSet) Contains(addr Addr) bool {
	_, ok := vs.index[addr]
	return ok
}

// Index returns the position of addr in the set.
func (vs *ValidatorSet) Index(addr Addr) (int, bool) {
	i, ok := vs.index[addr]
	return i, ok
}

// Proposer returns the proposer of the given height and round, it
// rotates round-robin over the ordered set.
func (vs *ValidatorSet) Proposer(height uint64, round uint32) Addr {
	n := uint64(len(vs.list))
	return vs.list[(height%n+uint64(round)%n)%n]
}

// IsProposer returns true if addr is the proposer of the view.
func (vs *ValidatorSet) IsProposer(height uint64, round uint32, addr Addr) bool {
	return vs.Proposer(height, round) == addr
}

// ValidatorProvider resolves the validator set of a height.
type ValidatorProvider interface {
	ValidatorsAt(height uint64) (*ValidatorSet, error)
}

// StaticValidators serves the same validator set for every height.
type StaticValidators struct {
	vs *ValidatorSet
}

// NewStaticValidators creates a static validator provider.
func NewStaticValidators(vs *ValidatorSet) *StaticValidators {
	return &StaticValidators{vs: vs}
}

// ValidatorsAt implements ValidatorProvider.
func (s *StaticValidators) ValidatorsAt(uint64) (*ValidatorSet, error) {
	return s.vs, nil
}

// HeaderReader reads canonical headers by number.
type HeaderReader interface {
	HeaderByNumber(number uint64) (*Header, bool)
}

// HeaderValidators derives the validator set of height H from the
// extra data of header H-1, so changes to the set only take effect at
// block boundaries.
type HeaderValidators struct {
	headers HeaderReader
	cache   *lru.Cache
}

// NewHeaderValidators creates a provider reading from headers.
func NewHeaderValidators(headers HeaderReader) *HeaderValidators {
	c, err := lru.New(snapshotCacheSize)
	if err != nil {
		panic(err)
	}

	return &HeaderValidators{headers: headers, cache: c}
}

// ValidatorsAt implements ValidatorProvider.
func (p *HeaderValidators) ValidatorsAt(height uint64) (*ValidatorSet, error) {
	if height == 0 {
		return nil, errors.Wrap(ErrUnknownValidatorSet, "genesis has no validator set")
	}

	if v, ok := p.cache.Get(height); ok {
		return v.(*ValidatorSet), nil
	}

	parent, ok := p.headers.HeaderByNumber(height - 1)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownValidatorSet, "height %d", height)
	}

	vs, err := ValidatorsFromHeader(parent)
	if err != nil {
		return nil, errors.Wrapf(ErrUnknownValidatorSet, "height %d: %v", height, err)
	}

	p.cache.Add(height, vs)
	return vs, nil
}

// ValidatorsFromHeader returns the validator set recorded in the
// header extra data, it applies to the child of the header.
func ValidatorsFromHeader(h *Header) (*ValidatorSet, error) {
	extra, err := DecodeExtra(h.Extra)
	if err != nil {
		return nil, err
	}

	return NewValidatorSet(extra.Validators)
}

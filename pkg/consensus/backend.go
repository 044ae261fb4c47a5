package consensus

import (
	"context"

	"github.com/helinwang/qbft/pkg/metrics"
)

// ChainView is the read only view of the canonical chain.
type ChainView interface {
	ChainHeadHeader() *Header
	ChainHeadBlockNumber() uint64
}

// Network broadcasts encoded consensus messages to the validator
// peers. It does not deliver the message back to the sender.
type Network interface {
	Broadcast(payload []byte) error
}

// BlockBuilder builds the candidate block of the local proposer.
type BlockBuilder interface {
	BuildCandidateBlock(ctx context.Context, parent *Header, round uint32) (*Block, error)
}

// BlockImporter imports finalized blocks into the canonical chain.
type BlockImporter interface {
	ImportFinalizedBlock(b *Block) error
}

// PreparedStore persists the prepared certificate of a height so the
// lock survives restarts.
type PreparedStore interface {
	SavePrepared(height uint64, c *PreparedCertificate) error
	// LoadPrepared returns nil without error when there is no
	// certificate for the height.
	LoadPrepared(height uint64) (*PreparedCertificate, error)
	Prune(below uint64) error
}

// Backend holds the collaborators of the engine. Store and Metrics
// are optional.
type Backend struct {
	Chain      ChainView
	Validators ValidatorProvider
	Network    Network
	Builder    BlockBuilder
	Importer   BlockImporter
	Store      PreparedStore
	Metrics    *metrics.Metrics
}

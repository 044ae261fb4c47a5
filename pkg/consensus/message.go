package consensus

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// MessageType is the type of a consensus message.
type MessageType uint8

// consensus message types
const (
	MsgProposal MessageType = iota
	MsgPrepare
	MsgCommit
	MsgRoundChange
	msgTypeCount
)

func (t MessageType) String() string {
	switch t {
	case MsgProposal:
		return "proposal"
	case MsgPrepare:
		return "prepare"
	case MsgCommit:
		return "commit"
	case MsgRoundChange:
		return "round_change"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// View identifies a consensus instance.
type View struct {
	Height uint64
	Round  uint32
}

func (v View) String() string {
	return fmt.Sprintf("%d/%d", v.Height, v.Round)
}

// DecodeError is returned for malformed message bytes.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode message: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Message is the signed consensus message envelope.
type Message struct {
	Type      MessageType
	Height    uint64
	Round     uint32
	Payload   []byte
	Signature Sig

	from Addr
}

// View returns the view of the message.
func (m *Message) View() View {
	return View{Height: m.Height, Round: m.Round}
}

// From returns the sender recovered from the signature. It is only
// valid after the message is signed or its sender is recovered.
func (m *Message) From() Addr {
	return m.from
}

// Encode encodes the message, optionally without the signature.
func (m *Message) Encode(withSig bool) []byte {
	use := m
	if !withSig {
		newM := *m
		newM.Signature = nil
		use = &newM
	}

	b, err := rlp.EncodeToBytes(use)
	if err != nil {
		// should never happen
		panic(err)
	}

	return b
}

// Digest returns the digest signed by the sender.
func (m *Message) Digest() Hash {
	return hash(m.Encode(false))
}

// Sign signs the message with the signer.
func (m *Message) Sign(s Signer) error {
	sig, err := s.Sign(m.Digest())
	if err != nil {
		return err
	}

	m.Signature = sig
	m.from = s.Addr()
	return nil
}

// DecodeMessage decodes the message and its payload.
func DecodeMessage(b []byte) (*Message, error) {
	var m Message
	err := rlp.DecodeBytes(b, &m)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if m.Type >= msgTypeCount {
		return nil, &DecodeError{Err: errors.Errorf("unknown message type %d", m.Type)}
	}

	switch m.Type {
	case MsgProposal:
		_, err = m.Proposal()
	case MsgPrepare:
		_, err = m.Prepare()
	case MsgCommit:
		_, err = m.Commit()
	case MsgRoundChange:
		_, err = m.RoundChange()
	}
	if err != nil {
		return nil, err
	}

	return &m, nil
}

// ProposalPayload is the payload of a proposal message.
//
// RoundChanges is the round change certificate, it is required for
// any round above 0.
type ProposalPayload struct {
	Block        *Block
	RoundChanges []*Message
}

// PreparePayload is the payload of a prepare message.
type PreparePayload struct {
	Digest Hash
}

// CommitPayload is the payload of a commit message, Seal signs the
// seal digest of the block at the message round.
type CommitPayload struct {
	Digest Hash
	Seal   Sig
}

// RoundChangePayload is the payload of a round change message.
type RoundChangePayload struct {
	Prepared *PreparedCertificate `rlp:"nil"`
}

// PreparedCertificate proves a block was prepared in a round: the
// block and a quorum of signed prepare messages for its digest.
type PreparedCertificate struct {
	Round    uint32
	Block    *Block
	Prepares []*Message
}

// Encode encodes the certificate.
func (c *PreparedCertificate) Encode() []byte {
	b, err := rlp.EncodeToBytes(c)
	if err != nil {
		panic(err)
	}

	return b
}

// DecodePreparedCertificate decodes a certificate produced by
// PreparedCertificate.Encode.
func DecodePreparedCertificate(b []byte) (*PreparedCertificate, error) {
	var c PreparedCertificate
	err := rlp.DecodeBytes(b, &c)
	if err != nil {
		return nil, errors.Wrap(err, "decode prepared certificate")
	}

	if c.Block == nil || c.Block.Header == nil {
		return nil, errors.New("decode prepared certificate: missing block")
	}

	return &c, nil
}

func (m *Message) checkType(t MessageType) error {
	if m.Type != t {
		return &DecodeError{Err: errors.Errorf("message type %v, want %v", m.Type, t)}
	}

	return nil
}

// Proposal decodes the proposal payload.
func (m *Message) Proposal() (*ProposalPayload, error) {
	if err := m.checkType(MsgProposal); err != nil {
		return nil, err
	}

	var p ProposalPayload
	err := rlp.DecodeBytes(m.Payload, &p)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if p.Block == nil || p.Block.Header == nil {
		return nil, &DecodeError{Err: errors.New("proposal without block")}
	}

	return &p, nil
}

// Prepare decodes the prepare payload.
func (m *Message) Prepare() (*PreparePayload, error) {
	if err := m.checkType(MsgPrepare); err != nil {
		return nil, err
	}

	var p PreparePayload
	err := rlp.DecodeBytes(m.Payload, &p)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &p, nil
}

// Commit decodes the commit payload.
func (m *Message) Commit() (*CommitPayload, error) {
	if err := m.checkType(MsgCommit); err != nil {
		return nil, err
	}

	var p CommitPayload
	err := rlp.DecodeBytes(m.Payload, &p)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	return &p, nil
}

// RoundChange decodes the round change payload.
func (m *Message) RoundChange() (*RoundChangePayload, error) {
	if err := m.checkType(MsgRoundChange); err != nil {
		return nil, err
	}

	var p RoundChangePayload
	err := rlp.DecodeBytes(m.Payload, &p)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if p.Prepared != nil && (p.Prepared.Block == nil || p.Prepared.Block.Header == nil) {
		return nil, &DecodeError{Err: errors.New("prepared certificate without block")}
	}

	return &p, nil
}

func newMessage(t MessageType, v View, payload interface{}) *Message {
	b, err := rlp.EncodeToBytes(payload)
	if err != nil {
		panic(err)
	}

	return &Message{Type: t, Height: v.Height, Round: v.Round, Payload: b}
}

func newProposal(v View, b *Block, rcs []*Message) *Message {
	return newMessage(MsgProposal, v, &ProposalPayload{Block: b, RoundChanges: rcs})
}

func newPrepare(v View, digest Hash) *Message {
	return newMessage(MsgPrepare, v, &PreparePayload{Digest: digest})
}

func newCommit(v View, digest Hash, seal Sig) *Message {
	return newMessage(MsgCommit, v, &CommitPayload{Digest: digest, Seal: seal})
}

func newRoundChange(v View, prepared *PreparedCertificate) *Message {
	return newMessage(MsgRoundChange, v, &RoundChangePayload{Prepared: prepared})
}

package consensus

// vote is a prepare or commit message with its decoded payload.
type vote struct {
	msg    *Message
	digest Hash
	seal   Sig
}

// roundState accumulates the messages of one (height, round). It is
// owned by the engine loop and replaced wholesale when the round or
// the height changes.
type roundState struct {
	view View
	vs   *ValidatorSet

	proposal *Message
	block    *Block
	digest   Hash

	prepares map[Addr]vote
	commits  map[Addr]vote

	// proposing is set once the local proposer started obtaining a
	// block for the round.
	proposing bool
	// roundChanges is the certificate the local proposer attaches
	// to its proposal.
	roundChanges []*Message
	// committed is set once the local commit is sent.
	committed bool
}

func newRoundState(view View, vs *ValidatorSet) *roundState {
	return &roundState{
		view:     view,
		vs:       vs,
		prepares: make(map[Addr]vote),
		commits:  make(map[Addr]vote),
	}
}

// setProposal stores the proposal. Only the first proposal of the
// round is kept.
func (s *roundState) setProposal(m *Message, b *Block) bool {
	if s.proposal != nil {
		return false
	}

	s.proposal = m
	s.block = b
	s.digest = b.Hash()
	return true
}

// addPrepare records the prepare of the sender, later prepares from
// the same sender are ignored.
func (s *roundState) addPrepare(m *Message, digest Hash) bool {
	if _, ok := s.prepares[m.from]; ok {
		return false
	}

	s.prepares[m.from] = vote{msg: m, digest: digest}
	return true
}

// addCommit records the commit of the sender, later commits from the
// same sender are ignored.
func (s *roundState) addCommit(m *Message, digest Hash, seal Sig) bool {
	if _, ok := s.commits[m.from]; ok {
		return false
	}

	s.commits[m.from] = vote{msg: m, digest: digest, seal: seal}
	return true
}

func (s *roundState) matching(votes map[Addr]vote) []vote {
	if s.proposal == nil {
		return nil
	}

	var r []vote
	// iterate in validator order so the result does not depend
	// on map order
	for _, addr := range s.vs.list {
		v, ok := votes[addr]
		if ok && v.digest == s.digest {
			r = append(r, v)
		}
	}
	return r
}

func (s *roundState) matchingPrepares() []vote {
	return s.matching(s.prepares)
}

func (s *roundState) matchingCommits() []vote {
	return s.matching(s.commits)
}

// prepared returns true if the proposal gathered a quorum of
// matching prepares.
func (s *roundState) prepared() bool {
	return s.proposal != nil && len(s.matchingPrepares()) >= s.vs.QuorumSize()
}

// finalizable returns true if the proposal gathered a quorum of
// matching commits.
func (s *roundState) finalizable() bool {
	return s.proposal != nil && len(s.matchingCommits()) >= s.vs.QuorumSize()
}

// preparedCertificate returns the certificate of the prepared
// proposal.
func (s *roundState) preparedCertificate() *PreparedCertificate {
	votes := s.matchingPrepares()
	msgs := make([]*Message, len(votes))
	for i, v := range votes {
		msgs[i] = v.msg
	}

	return &PreparedCertificate{Round: s.view.Round, Block: s.block, Prepares: msgs}
}

// commitSeals returns the seals of the matching commits.
func (s *roundState) commitSeals() []CommitSeal {
	votes := s.matchingCommits()
	seals := make([]CommitSeal, len(votes))
	for i, v := range votes {
		seals[i] = CommitSeal{Signer: v.msg.from, Seal: v.seal}
	}
	return seals
}

package consensus

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/inconshreveable/log15"
	"github.com/pkg/errors"

	"github.com/helinwang/qbft/pkg/metrics"
)

const (
	eventQueueSize = 1024
	errQueueSize   = 16
)

var errAlreadyStarted = errors.New("engine already started")

// ImportError is returned when a finalized block could not be
// imported. It means the local chain diverged from the validators.
type ImportError struct {
	Height uint64
	Hash   Hash
	Err    error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import finalized block %d (%v): %v", e.Height, e.Hash, e.Err)
}

// Unwrap returns the underlying error.
func (e *ImportError) Unwrap() error {
	return e.Err
}

// Phase is the phase of the consensus instance.
type Phase int

// consensus phases
const (
	PhaseIdle Phase = iota
	PhaseAwaitingProposal
	PhasePrepared
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingProposal:
		return "awaiting_proposal"
	case PhasePrepared:
		return "prepared"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// Status is a snapshot of the engine state.
type Status struct {
	View      View
	Phase     Phase
	Validator bool
	Proposer  Addr
}

type msgEvent struct {
	m *Message
}

type timeoutEvent struct {
	view View
}

type builtEvent struct {
	view  View
	seq   uint64
	block *Block
	err   error
}

type importedEvent struct {
	height uint64
	block  *Block
	err    error
}

type newHeadEvent struct{}

// Engine runs the QBFT consensus protocol.
//
// All consensus state is owned by a single loop goroutine. Network
// readers only decode messages and recover their sender before
// handing them to the loop. Block building and block import run on
// their own goroutines and report back as events.
type Engine struct {
	cfg        Config
	signer     Signer
	addr       Addr
	chain      ChainView
	validators ValidatorProvider
	auth       *authenticator
	network    Network
	builder    BlockBuilder
	importer   BlockImporter
	store      PreparedStore
	metrics    *metrics.Metrics
	log        log.Logger

	seen   *lru.Cache
	timer  *RoundTimer
	events chan interface{}
	errs   chan error
	quit   chan struct{}
	done   chan struct{}
	// spawn runs blocking work off the loop.
	spawn func(func())

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool

	statusMu sync.Mutex
	status   Status

	// owned by the loop goroutine
	view      View
	active    bool
	finalized bool
	vs        *ValidatorSet
	parent    *Header
	state     *roundState
	rcs       *roundChanges
	backlog   *backlog
	prepared  *PreparedCertificate
	buildSeq  uint64
	cancel    context.CancelFunc
}

// NewEngine creates the consensus engine of the validator holding
// key.
func NewEngine(cfg Config, key *ecdsa.PrivateKey, b Backend) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	seen, err := lru.New(cfg.MessageCacheSize)
	if err != nil {
		return nil, err
	}

	signer := NewSigner(key)
	e := &Engine{
		cfg:        cfg,
		signer:     signer,
		addr:       signer.Addr(),
		chain:      b.Chain,
		validators: b.Validators,
		auth:       newAuthenticator(b.Validators),
		network:    b.Network,
		builder:    b.Builder,
		importer:   b.Importer,
		store:      b.Store,
		metrics:    b.Metrics,
		log:        log.New("addr", signer.Addr()),
		seen:       seen,
		events:     make(chan interface{}, eventQueueSize),
		errs:       make(chan error, errQueueSize),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		backlog:    newBacklog(cfg.FutureHeightWindow, cfg.MaxBacklogPerSender, cfg.MaxBacklog),
		spawn: func(f func()) {
			go f()
		},
	}
	e.timer = NewRoundTimer(cfg.RequestTimeout, cfg.MaxRoundTimeout, func(v View) {
		e.post(timeoutEvent{view: v})
	})
	return e, nil
}

// Addr returns the address of the local validator.
func (e *Engine) Addr() Addr {
	return e.addr
}

// Start starts the engine at the height after the chain head.
func (e *Engine) Start() error {
	err := errAlreadyStarted
	e.startOnce.Do(func() {
		err = nil
		e.started = true
		go e.loop()
		e.post(newHeadEvent{})
	})
	return err
}

// Stop stops the engine and waits for the loop to exit.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.quit)
		e.timer.Cancel()
		if e.started {
			<-e.done
		}
	})
}

// Errors returns the escalated errors: unknown validator sets and
// import failures. Errors are dropped when nobody reads them.
func (e *Engine) Errors() <-chan error {
	return e.errs
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.status
}

// NewChainHead notifies the engine that the chain head changed.
func (e *Engine) NewChainHead() {
	e.post(newHeadEvent{})
}

// HandleMessage is the network receive callback, it is safe to call
// from any goroutine.
func (e *Engine) HandleMessage(b []byte) {
	h := hash(b)
	if ok, _ := e.seen.ContainsOrAdd(h, struct{}{}); ok {
		return
	}

	m, err := DecodeMessage(b)
	if err != nil {
		e.log.Debug("drop malformed message", "err", err)
		e.metrics.Dropped("decode")
		return
	}

	err = recoverSender(m)
	if err != nil {
		e.log.Debug("drop unauthenticated message", "type", m.Type, "view", m.View(), "err", err)
		e.metrics.Dropped("auth")
		return
	}

	e.post(msgEvent{m: m})
}

func (e *Engine) post(ev interface{}) {
	select {
	case e.events <- ev:
	case <-e.quit:
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.events:
			e.handle(ev)
		case <-e.quit:
			if e.cancel != nil {
				e.cancel()
			}
			return
		}
	}
}

func (e *Engine) handle(ev interface{}) {
	switch ev := ev.(type) {
	case msgEvent:
		e.onMessage(ev.m)
	case timeoutEvent:
		e.onTimeout(ev.view)
	case builtEvent:
		e.onBuilt(ev)
	case importedEvent:
		e.onImported(ev)
	case newHeadEvent:
		e.onNewHead()
	default:
		panic(fmt.Sprintf("unknown event %T", ev))
	}
	e.updateStatus()
}

func (e *Engine) escalate(err error) {
	e.log.Error("consensus fault", "err", err)
	select {
	case e.errs <- err:
	default:
	}
}

func (e *Engine) isValidator() bool {
	return e.vs != nil && e.vs.Contains(e.addr)
}

func (e *Engine) updateStatus() {
	s := Status{View: e.view, Validator: e.isValidator()}
	switch {
	case !e.active:
		s.Phase = PhaseIdle
	case e.finalized:
		s.Phase = PhaseFinalized
	case e.state.committed || e.state.prepared():
		s.Phase = PhasePrepared
	default:
		s.Phase = PhaseAwaitingProposal
	}
	if e.vs != nil {
		s.Proposer = e.vs.Proposer(e.view.Height, e.view.Round)
	}

	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

func (e *Engine) onNewHead() {
	next := e.chain.ChainHeadBlockNumber() + 1
	if next < e.view.Height || (next == e.view.Height && e.active) {
		return
	}

	e.startHeight(next)
}

func (e *Engine) startHeight(height uint64) {
	e.timer.Cancel()
	e.cancelBuild()
	e.view = View{Height: height}
	e.active = false
	e.finalized = false
	e.prepared = nil
	e.state = nil

	parent := e.chain.ChainHeadHeader()
	if parent.Number+1 != height {
		e.log.Warn("chain head moved while starting height", "height", height, "head", parent.Number)
		return
	}

	vs, err := e.validators.ValidatorsAt(height)
	if err != nil {
		if !errors.Is(err, ErrUnknownValidatorSet) {
			err = errors.Wrapf(ErrUnknownValidatorSet, "height %d: %v", height, err)
		}
		e.vs = nil
		e.escalate(err)
		return
	}

	e.vs = vs
	e.parent = parent
	e.rcs = newRoundChanges(vs)
	e.active = true
	e.loadPrepared()

	e.log.Info("start height", "height", height, "validators", vs.Size(), "validator", vs.Contains(e.addr))
	e.startRound(0)
}

func (e *Engine) loadPrepared() {
	if e.store == nil {
		return
	}

	err := e.store.Prune(e.view.Height)
	if err != nil {
		e.log.Warn("prune prepared certificates failed", "err", err)
	}

	c, err := e.store.LoadPrepared(e.view.Height)
	if err != nil {
		e.log.Error("load prepared certificate failed", "height", e.view.Height, "err", err)
		return
	}

	if c == nil {
		return
	}

	err = verifyPreparedCertificate(c, e.view.Height, ^uint32(0), e.vs)
	if err != nil {
		e.log.Error("stored prepared certificate is invalid", "height", e.view.Height, "err", err)
		return
	}

	e.log.Info("restored prepared certificate", "height", e.view.Height, "round", c.Round, "block", c.Block.Hash())
	e.prepared = c
}

// startRound drops the round state and starts the round of the
// current height.
func (e *Engine) startRound(round uint32) {
	e.timer.Cancel()
	e.cancelBuild()
	e.view.Round = round
	e.state = newRoundState(e.view, e.vs)
	e.rcs.prune(round)
	e.timer.Start(e.view)
	e.metrics.SetView(e.view.Height, round)

	e.log.Debug("start round", "view", e.view, "proposer", e.vs.Proposer(e.view.Height, round))
	e.tryPropose()

	for _, m := range e.backlog.take(e.view) {
		e.onMessage(m)
	}
	e.metrics.SetBacklog(e.backlog.size())
}

// roundChange moves to the round and broadcasts the local round
// change carrying the highest prepared certificate.
func (e *Engine) roundChange(round uint32) {
	e.log.Info("round change", "height", e.view.Height, "from", e.view.Round, "to", round)
	e.metrics.RoundChange()
	e.startRound(round)

	if !e.isValidator() {
		return
	}

	e.broadcast(newRoundChange(e.view, e.prepared))
}

func (e *Engine) cancelBuild() {
	e.buildSeq++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

func (e *Engine) onTimeout(v View) {
	if !e.active || e.finalized || v != e.view {
		return
	}

	e.log.Debug("round timeout", "view", v)
	e.roundChange(v.Round + 1)
}

func (e *Engine) tryPropose() {
	s := e.state
	if !e.isValidator() || e.finalized || s.proposing || s.proposal != nil {
		return
	}

	if !e.vs.IsProposer(e.view.Height, e.view.Round, e.addr) {
		return
	}

	if e.view.Round == 0 {
		s.proposing = true
		e.build()
		return
	}

	cert := e.rcs.certificate(e.view.Round)
	if cert == nil {
		return
	}

	s.proposing = true
	s.roundChanges = cert
	highest := e.rcs.highestPrepared(e.view.Round)
	if highest != nil {
		e.log.Info("re-proposing prepared block", "view", e.view, "block", highest.Block.Hash(), "prepared round", highest.Round)
		e.broadcast(newProposal(e.view, highest.Block, cert))
		return
	}

	e.build()
}

func (e *Engine) build() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	view := e.view
	seq := e.buildSeq
	parent := e.parent
	e.spawn(func() {
		b, err := e.builder.BuildCandidateBlock(ctx, parent, view.Round)
		e.post(builtEvent{view: view, seq: seq, block: b, err: err})
	})
}

func (e *Engine) onBuilt(ev builtEvent) {
	if !e.active || e.finalized || ev.view != e.view || ev.seq != e.buildSeq {
		e.log.Debug("drop stale built block", "view", ev.view)
		return
	}

	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	if ev.err != nil {
		e.log.Warn("build candidate block failed", "view", ev.view, "err", ev.err)
		return
	}

	e.log.Info("proposing block", "view", e.view, "block", ev.block.Hash(), "txns", len(ev.block.Txns))
	e.broadcast(newProposal(e.view, ev.block, e.state.roundChanges))
}

// broadcast signs and sends the message to the peers, then handles
// it locally.
func (e *Engine) broadcast(m *Message) {
	err := m.Sign(e.signer)
	if err != nil {
		e.log.Error("sign message failed", "type", m.Type, "err", err)
		return
	}

	b := m.Encode(true)
	e.seen.Add(hash(b), struct{}{})
	err = e.network.Broadcast(b)
	if err != nil {
		e.log.Warn("broadcast message failed", "type", m.Type, "view", m.View(), "err", err)
	}

	e.onMessage(m)
}

func (e *Engine) drop(m *Message, reason string, err error) {
	e.log.Debug("drop message", "type", m.Type, "view", m.View(), "from", m.from, "reason", reason, "err", err)
	e.metrics.Dropped(reason)
}

func (e *Engine) onMessage(m *Message) {
	if m.Height < e.view.Height {
		e.drop(m, "stale", nil)
		return
	}

	if m.Height > e.view.Height || !e.active {
		e.buffer(m)
		return
	}

	if e.finalized {
		e.drop(m, "finalized", nil)
		return
	}

	err := checkMember(m, e.vs)
	if err != nil {
		e.drop(m, "auth", err)
		return
	}

	switch m.Type {
	case MsgProposal:
		e.onProposal(m)
	case MsgPrepare:
		e.onPrepare(m)
	case MsgCommit:
		e.onCommit(m)
	case MsgRoundChange:
		e.onRoundChange(m)
	}
}

// buffer keeps a message of a future view. The sender must be in the
// validator set of the message height, or in the current set when
// that one is not known yet.
func (e *Engine) buffer(m *Message) {
	err := e.auth.checkSender(m, e.vs)
	var authErr *AuthError
	if errors.As(err, &authErr) {
		e.drop(m, "auth", err)
		return
	}

	if !e.backlog.add(m, e.view) {
		e.drop(m, "backlog", nil)
		return
	}

	e.metrics.SetBacklog(e.backlog.size())
}

func (e *Engine) onProposal(m *Message) {
	if m.Round < e.view.Round {
		e.drop(m, "stale", nil)
		return
	}

	if m.Round == e.view.Round && e.state.proposal != nil {
		e.drop(m, "duplicate", nil)
		return
	}

	p, err := m.Proposal()
	if err != nil {
		e.drop(m, "decode", err)
		return
	}

	err = verifyProposal(m, p, e.parent, e.vs)
	if err != nil {
		e.drop(m, "invalid", err)
		return
	}

	if m.Round > e.view.Round {
		e.log.Info("moving to round of justified proposal", "height", e.view.Height, "from", e.view.Round, "to", m.Round)
		e.metrics.RoundChange()
		e.startRound(m.Round)
		if e.finalized || e.view.Round != m.Round || e.state.proposal != nil {
			return
		}
	}

	e.state.setProposal(m, p.Block)
	e.log.Debug("accepted proposal", "view", e.view, "block", e.state.digest, "from", m.from)

	if e.isValidator() {
		e.broadcast(newPrepare(e.view, e.state.digest))
	}
	e.checkPrepared()
	e.checkFinalized()
}

func (e *Engine) onPrepare(m *Message) {
	if m.Round < e.view.Round {
		e.drop(m, "stale", nil)
		return
	}

	if m.Round > e.view.Round {
		e.buffer(m)
		return
	}

	p, err := m.Prepare()
	if err != nil {
		e.drop(m, "decode", err)
		return
	}

	if !e.state.addPrepare(m, p.Digest) {
		e.drop(m, "duplicate", nil)
		return
	}

	e.checkPrepared()
}

func (e *Engine) checkPrepared() {
	s := e.state
	if s.committed || !s.prepared() {
		return
	}

	c := s.preparedCertificate()
	if e.prepared == nil || c.Round >= e.prepared.Round {
		e.prepared = c
	}
	s.committed = true

	if !e.isValidator() {
		return
	}

	if e.store != nil {
		err := e.store.SavePrepared(e.view.Height, e.prepared)
		if err != nil {
			e.log.Error("persist prepared certificate failed, withholding commit", "view", e.view, "err", err)
			return
		}
	}

	seal, err := e.signer.Sign(SealDigest(s.digest, e.view.Round))
	if err != nil {
		e.log.Error("sign commit seal failed", "view", e.view, "err", err)
		return
	}

	e.log.Debug("prepared", "view", e.view, "block", s.digest)
	e.broadcast(newCommit(e.view, s.digest, seal))
}

func (e *Engine) onCommit(m *Message) {
	if m.Round < e.view.Round {
		e.drop(m, "stale", nil)
		return
	}

	if m.Round > e.view.Round {
		e.buffer(m)
		return
	}

	p, err := m.Commit()
	if err != nil {
		e.drop(m, "decode", err)
		return
	}

	signer, err := RecoverAddr(SealDigest(p.Digest, m.Round), p.Seal)
	if err != nil || signer != m.from {
		e.drop(m, "auth", errors.New("commit seal not signed by sender"))
		return
	}

	if !e.state.addCommit(m, p.Digest, p.Seal) {
		e.drop(m, "duplicate", nil)
		return
	}

	e.checkFinalized()
}

func (e *Engine) checkFinalized() {
	s := e.state
	if e.finalized || !s.finalizable() {
		return
	}

	b, err := Finalize(s.block, e.view.Round, s.commitSeals(), e.vs)
	if err != nil {
		// the matching commits were checked, should not happen
		e.log.Error("finalize block failed", "view", e.view, "err", err)
		return
	}

	e.finalized = true
	e.timer.Cancel()
	e.cancelBuild()
	e.metrics.Finalized(e.view.Round)
	e.log.Info("finalized block", "height", e.view.Height, "round", e.view.Round, "block", s.digest, "seals", len(s.commitSeals()))

	height := e.view.Height
	e.spawn(func() {
		err := e.importer.ImportFinalizedBlock(b)
		e.post(importedEvent{height: height, block: b, err: err})
	})
}

func (e *Engine) onImported(ev importedEvent) {
	if ev.err != nil {
		e.metrics.ImportError()
		e.escalate(&ImportError{Height: ev.height, Hash: ev.block.Hash(), Err: ev.err})
		if e.active && e.finalized && ev.height == e.view.Height {
			// reopen the height, the prepared lock makes the next
			// rounds propose the same block again
			e.finalized = false
			e.timer.Start(e.view)
		}
		return
	}

	if e.store != nil {
		err := e.store.Prune(ev.height + 1)
		if err != nil {
			e.log.Warn("prune prepared certificates failed", "err", err)
		}
	}

	e.onNewHead()
}

func (e *Engine) onRoundChange(m *Message) {
	if m.Round < e.view.Round || m.Round == 0 {
		e.drop(m, "stale", nil)
		return
	}

	p, err := m.RoundChange()
	if err != nil {
		e.drop(m, "decode", err)
		return
	}

	if p.Prepared != nil {
		err = verifyPreparedCertificate(p.Prepared, m.Height, m.Round, e.vs)
		if err != nil {
			e.drop(m, "invalid", err)
			return
		}
	}

	if !e.rcs.add(m, p.Prepared) {
		e.drop(m, "duplicate", nil)
		return
	}

	if m.Round == e.view.Round {
		e.tryPropose()
		return
	}

	if e.rcs.count(m.Round) >= e.vs.QuorumSize() {
		e.roundChange(m.Round)
		return
	}

	if round, ok := e.rcs.catchUpRound(e.view.Round); ok {
		e.roundChange(round)
	}
}

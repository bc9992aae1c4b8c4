// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package kamon

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// Stage is the position of an owner's saga in the sync state machine.
//
//	Idle → QuestCompleted → PointsCompared ─(equal)→ Idle
//	                                      └→ GenerationRequested → MetadataFetchRequested
//	                                         → WriteRequested → WriteCompleted → Idle
//
// Any failure returns the saga to Idle.
type Stage uint8

const (
	StageIdle Stage = iota
	StageQuestCompleted
	StagePointsCompared
	StageGenerationRequested
	StageMetadataFetchRequested
	StageWriteRequested
	StageWriteCompleted
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageQuestCompleted:
		return "quest_completed"
	case StagePointsCompared:
		return "points_compared"
	case StageGenerationRequested:
		return "generation_requested"
	case StageMetadataFetchRequested:
		return "metadata_fetch_requested"
	case StageWriteRequested:
		return "write_requested"
	case StageWriteCompleted:
		return "write_completed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkflowState is a snapshot of one owner's saga. Outside of a cycle every
// field except Owner and TokenID holds its zero value.
type WorkflowState struct {
	Owner              common.Address `json:"owner"`
	Cycle              string         `json:"cycle,omitempty"`
	Stage              Stage          `json:"stage"`
	TokenID            uint64         `json:"tokenId"`
	CurrentTokenURI    string         `json:"currentTokenUri,omitempty"`
	CurrentToken       *KamonToken    `json:"currentToken,omitempty"`
	PendingMetadataURI string         `json:"pendingMetadataUri,omitempty"`
	PendingToken       *KamonToken    `json:"pendingToken,omitempty"`
	WriteInFlight      bool           `json:"writeInFlight"`
	WriteCompleted     bool           `json:"writeCompleted"`
}

// workflow is the mutable saga state. The write flags of WorkflowState are
// derived from stage rather than stored.
type workflow struct {
	cycle      string
	stage      Stage
	tokenID    uint64
	currentURI string
	current    *KamonToken
	pendingURI string
	pending    *KamonToken
}

// reset returns the workflow to Idle. The token id survives: it belongs to
// the owner, not to the cycle.
func (w *workflow) reset() {
	*w = workflow{tokenID: w.tokenID}
}

type saga struct {
	owner common.Address
	log   log.Logger

	mu sync.Mutex
	wf workflow
}

func (s *saga) update(fn func(wf *workflow)) {
	s.mu.Lock()
	fn(&s.wf)
	s.mu.Unlock()
}

func (s *saga) setStage(stage Stage) {
	s.update(func(wf *workflow) { wf.stage = stage })
}

// beginWrite is the single-flight guard in front of the token writer.
func (s *saga) beginWrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.wf.tokenID == 0:
		return ErrNoToken
	case s.wf.stage == StageWriteRequested:
		return ErrWriteInFlight
	}
	s.wf.stage = StageWriteRequested
	return nil
}

func (s *saga) snapshot() WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return WorkflowState{
		Owner:              s.owner,
		Cycle:              s.wf.cycle,
		Stage:              s.wf.stage,
		TokenID:            s.wf.tokenID,
		CurrentTokenURI:    s.wf.currentURI,
		CurrentToken:       s.wf.current,
		PendingMetadataURI: s.wf.pendingURI,
		PendingToken:       s.wf.pending,
		WriteInFlight:      s.wf.stage == StageWriteRequested,
		WriteCompleted:     s.wf.stage == StageWriteCompleted,
	}
}

// Cycle is the handle of one triggered sync run.
type Cycle struct {
	ID    string
	Owner common.Address

	done    chan struct{}
	outcome *Outcome
	err     error
}

// Done is closed when the cycle has returned to Idle.
func (c *Cycle) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the published outcome. It is nil while the cycle runs and
// for cycles aborted on an unmet precondition.
func (c *Cycle) Outcome() *Outcome {
	select {
	case <-c.done:
		return c.outcome
	default:
		return nil
	}
}

// Err returns the unmet precondition that aborted the cycle, if any.
func (c *Cycle) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the cycle finishes or ctx is done.
func (c *Cycle) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-c.done:
		return c.outcome, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Orchestrator runs point-sync sagas, one per owner. Triggers never block on
// the saga: each cycle runs in its own goroutine and reports through the
// outcome feed.
type Orchestrator struct {
	reader    TokenReader
	points    PointsSource
	generator MetadataGenerator
	fetcher   MetadataFetcher
	writer    TokenWriter

	outcomes event.Feed
	scope    event.SubscriptionScope

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	sagas  map[common.Address]*saga

	newCycleID func() string
	now        func() time.Time
}

// NewOrchestrator creates an orchestrator wired to its collaborators.
func NewOrchestrator(
	reader TokenReader,
	points PointsSource,
	generator MetadataGenerator,
	fetcher MetadataFetcher,
	writer TokenWriter,
) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		reader:     reader,
		points:     points,
		generator:  generator,
		fetcher:    fetcher,
		writer:     writer,
		ctx:        ctx,
		cancel:     cancel,
		sagas:      make(map[common.Address]*saga),
		newCycleID: func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// SubscribeOutcomes delivers every published outcome to ch. Delivery is
// synchronous with the publishing cycle, so ch should be buffered or drained
// promptly.
func (o *Orchestrator) SubscribeOutcomes(ch chan<- Outcome) event.Subscription {
	return o.scope.Track(o.outcomes.Subscribe(ch))
}

// Status returns the current state of owner's saga.
func (o *Orchestrator) Status(owner common.Address) WorkflowState {
	o.mu.Lock()
	s, ok := o.sagas[owner]
	o.mu.Unlock()
	if !ok {
		return WorkflowState{Owner: owner}
	}
	return s.snapshot()
}

// QuestCompleted starts a sync cycle for owner. It returns ErrCycleInProgress
// without side effects if the owner's previous cycle has not reached Idle.
func (o *Orchestrator) QuestCompleted(owner common.Address) (*Cycle, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	s, ok := o.sagas[owner]
	if !ok {
		s = &saga{owner: owner, log: log.New("owner", owner)}
		o.sagas[owner] = s
	}
	o.wg.Add(1)
	o.mu.Unlock()

	s.mu.Lock()
	if s.wf.stage != StageIdle {
		stage, running := s.wf.stage, s.wf.cycle
		s.mu.Unlock()
		o.wg.Done()
		s.log.Debug("Dropped quest trigger", "cycle", running, "stage", stage)
		return nil, ErrCycleInProgress
	}
	cycle := &Cycle{ID: o.newCycleID(), Owner: owner, done: make(chan struct{})}
	s.wf.reset()
	s.wf.cycle = cycle.ID
	s.wf.stage = StageQuestCompleted
	s.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer close(cycle.done)
		o.run(s, cycle)
	}()
	return cycle, nil
}

// Close stops accepting triggers, cancels running cycles and waits for them
// to report.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	o.scope.Close()
}

// run drives one cycle from QuestCompleted back to Idle. Steps are strictly
// sequential; each collaborator is called at most once.
func (o *Orchestrator) run(s *saga, c *Cycle) {
	ctx := o.ctx
	out := Outcome{}
	s.log.Debug("Sync cycle started", "cycle", c.ID)

	// Current on-chain state
	tokenID, uri, err := o.reader.TokenOf(ctx, s.owner)
	if err != nil {
		out.Kind, out.Err = OutcomeReadFailed, transientError("read token", err)
		o.finish(s, c, out)
		return
	}
	if tokenID == 0 {
		o.abort(s, c, ErrNoToken)
		return
	}
	out.TokenID = tokenID
	s.update(func(wf *workflow) {
		wf.tokenID = tokenID
		wf.currentURI = uri
	})

	current, err := o.fetcher.Fetch(ctx, uri)
	if err != nil {
		out.Kind, out.Err = OutcomeReadFailed, wrapOp("fetch current metadata", err)
		o.finish(s, c, out)
		return
	}
	s.update(func(wf *workflow) { wf.current = current })

	// Fresh points, compared against the document on the token
	points, err := o.points.PointsOf(ctx, s.owner)
	if err != nil {
		out.Kind, out.Err = OutcomeReadFailed, transientError("read points", err)
		o.finish(s, c, out)
		return
	}
	out.Points = points
	s.setStage(StagePointsCompared)

	onToken, ok := current.Points()
	if ok && onToken == points {
		out.Kind = OutcomeNoChangeNeeded
		o.finish(s, c, out)
		return
	}
	s.log.Info("Points changed, regenerating metadata", "cycle", c.ID, "token", tokenID, "from", onToken, "to", points)

	// Generation
	payload := NewSyncRequestPayload(s.owner, current, points)
	out.PayloadHash = payload.Hash()
	s.setStage(StageGenerationRequested)

	newURI, err := o.generator.Generate(ctx, payload)
	if err != nil {
		out.Kind, out.Err = OutcomeGenerationFailed, wrapOp("generate metadata", err)
		o.finish(s, c, out)
		return
	}
	out.MetadataURI = newURI
	s.update(func(wf *workflow) {
		wf.stage = StageMetadataFetchRequested
		wf.pendingURI = newURI
	})

	// Re-fetch the generated document
	pending, err := o.fetcher.Fetch(ctx, newURI)
	if err != nil {
		out.Kind, out.Err = OutcomeFetchFailed, wrapOp("fetch generated metadata", err)
		o.finish(s, c, out)
		return
	}
	if got, ok := pending.Points(); ok && got != payload.Points {
		out.Kind, out.Err = OutcomeFetchFailed, applicationError("fetch generated metadata", ErrPointsMismatch)
		o.finish(s, c, out)
		return
	}
	s.update(func(wf *workflow) { wf.pending = pending })

	// Guarded on-chain write
	if err := s.beginWrite(); err != nil {
		o.abort(s, c, err)
		return
	}
	txHash, err := o.writer.UpdateToken(ctx, tokenID, newURI)
	s.setStage(StageWriteCompleted)
	out.TxHash = txHash

	switch KindOf(err) {
	case KindUserDeclined:
		out.Kind, out.Err = OutcomeWriteRejected, wrapOp("update token", err)
	default:
		if err != nil {
			out.Kind, out.Err = OutcomeWriteFailed, wrapOp("update token", err)
		} else {
			out.Kind = OutcomeWriteSucceeded
		}
	}
	o.finish(s, c, out)
}

// finish resets the saga and then publishes the outcome.
func (o *Orchestrator) finish(s *saga, c *Cycle, out Outcome) {
	out.Cycle = c.ID
	out.Owner = s.owner
	out.Time = o.now()
	if out.Err != nil {
		out.Reason = out.Err.Error()
	}
	s.update(func(wf *workflow) { wf.reset() })
	c.outcome = &out

	switch out.Kind {
	case OutcomeWriteSucceeded:
		s.log.Info("Token metadata updated", "cycle", c.ID, "token", out.TokenID, "uri", out.MetadataURI, "tx", out.TxHash.Hex())
	case OutcomeNoChangeNeeded:
		s.log.Debug("Points unchanged", "cycle", c.ID, "token", out.TokenID, "points", out.Points)
	default:
		s.log.Warn("Sync cycle failed", "cycle", c.ID, "outcome", out.Kind, "kind", KindOf(out.Err), "err", out.Err)
	}
	o.outcomes.Send(out)
}

// abort resets the saga without publishing: there was nothing to do.
func (o *Orchestrator) abort(s *saga, c *Cycle, reason error) {
	s.update(func(wf *workflow) { wf.reset() })
	c.err = reason
	s.log.Debug("Sync cycle aborted", "cycle", c.ID, "reason", reason)
}

// wrapOp tags err with the step name, keeping any classification the
// collaborator already attached.
func wrapOp(op string, err error) error {
	if _, ok := err.(*SyncError); ok {
		return err
	}
	return &SyncError{Op: op, Kind: KindOf(err), Err: err}
}

// Copyright (C) 2024 The Reactors Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package schedcore implements the scheduler's main loop: the single
// piece that ties the event queue, action stores, port store, and
// reaction graph together into the tag-by-tag execution described by
// the scheduling spec's §4.1.
package schedcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reactor-rt/reactors/internal/action"
	"github.com/reactor-rt/reactors/internal/config"
	"github.com/reactor-rt/reactors/internal/graph"
	"github.com/reactor-rt/reactors/internal/ingress"
	"github.com/reactor-rt/reactors/internal/logger"
	"github.com/reactor-rt/reactors/internal/port"
	"github.com/reactor-rt/reactors/internal/queue"
	"github.com/reactor-rt/reactors/internal/reaction"
	"github.com/reactor-rt/reactors/internal/record"
	"github.com/reactor-rt/reactors/internal/tag"
	"github.com/reactor-rt/reactors/internal/telemetry"
	"github.com/reactor-rt/reactors/internal/timer"
)

// State is the scheduler's lifecycle state.
type State int

const (
	Idle State = iota
	Running
	Draining
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ActionBinding wires one builder-declared action into the scheduler:
// its kind, its minimum delay (physical actions only), and its
// type-erased store.
type ActionBinding struct {
	ID       action.ID
	Kind     action.Kind
	MinDelay tag.Duration
	Store    action.ErasedStore
}

// TimerBinding wires one builder-declared timer into the scheduler.
// Index must match the slice position passed to New, and is the same
// index used in graph.TimerTrigger.
type TimerBinding struct {
	Index    uint32
	Schedule timer.Schedule
	Catchup  timer.CatchupPolicy
}

// timerSpace partitions the queue's action.ID space so timer firings
// never collide with a builder-assigned action id, which is always
// small and dense starting at zero.
const timerSpace action.ID = 1 << 31

func timerQueueID(index uint32) action.ID { return timerSpace + action.ID(index) }

func timerIndexFromQueueID(id action.ID) (uint32, bool) {
	if id >= timerSpace {
		return uint32(id - timerSpace), true
	}
	return 0, false
}

// beforeStart is a sentinel "no prior firing" offset used only when
// arming a timer's very first firing.
const beforeStart tag.Duration = -1

var errReselect = errors.New("schedcore: reselect after ingress arrival")

// Scheduler owns every piece of runtime state described by §3 and
// drives the main loop described by §4.1. It implements
// reaction.Backend, so reaction bodies call back into it through the
// narrow Context API without either package importing the other's
// concrete types.
type Scheduler struct {
	graph   *graph.Graph
	program reaction.Program
	ports   *port.Store
	actions map[action.ID]*ActionBinding
	timers  []*TimerBinding

	queue *queue.EventQueue
	ing   *ingress.Ingress
	clock ingress.Clock

	cfg          config.Config
	recorder     *record.Recorder
	replayer     *record.Replayer
	collector    *telemetry.Collector
	log          logger.Logger
	workers      int
	lastPhysical tag.Duration

	mu            sync.Mutex
	state         State
	currentTag    tag.Tag
	shutdownAt    *tag.Tag
	stopRequested bool
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithIngress registers the live physical-ingress channel. Mutually
// exclusive with WithReplayer, which supplies pre-tagged events
// instead.
func WithIngress(g *ingress.Ingress) Option { return func(s *Scheduler) { s.ing = g } }

// WithClock overrides the physical clock (the default is
// ingress.NewMonotonicClock()).
func WithClock(c ingress.Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithConfig applies runtime knobs: fast-forward, keepalive, timeout,
// worker count.
func WithConfig(cfg config.Config) Option {
	return func(s *Scheduler) {
		s.cfg = cfg
		s.workers = cfg.Workers
	}
}

// WithRecorder appends every successful physical-action insertion to
// r.
func WithRecorder(r *record.Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

// WithReplayer replaces the live ingress path with a list of recorded,
// pre-tagged events read back verbatim.
func WithReplayer(r *record.Replayer) Option {
	return func(s *Scheduler) {
		s.replayer = r
		s.ing = nil
	}
}

// WithCollector attaches Prometheus instruments.
func WithCollector(c *telemetry.Collector) Option { return func(s *Scheduler) { s.collector = c } }

// WithLogger attaches a structured logger.
func WithLogger(l logger.Logger) Option { return func(s *Scheduler) { s.log = l } }

// New builds a Scheduler from the builder's flattened tables. ports
// must already be populated with every port declaration; actions and
// timers must be dense per their own id spaces.
func New(g *graph.Graph, program reaction.Program, ports *port.Store, actions []*ActionBinding, timers []*TimerBinding, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:   g,
		program: program,
		ports:   ports,
		actions: make(map[action.ID]*ActionBinding, len(actions)),
		timers:  timers,
		queue:   queue.New(),
		clock:   ingress.NewMonotonicClock(),
		log:     logger.NewLogger(),
		state:   Idle,
	}
	for _, ab := range actions {
		s.actions[ab.ID] = ab
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot is the scheduler's health/watermark surface: a point-in-time
// read of its lifecycle state, current tag, and queue depth, safe to
// call from any goroutine.
type Snapshot struct {
	State      State
	CurrentTag tag.Tag
	QueueDepth int
}

// Snapshot reads the scheduler's current health/watermark state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, CurrentTag: s.currentTag, QueueDepth: s.queue.Len()}
}

// Stop requests an orderly stop. The flag is checked before each tag is
// selected and between the levels of the tag in progress; it never
// aborts a reaction mid-body. A scheduler blocked waiting for ingress
// or for wall-clock time does not observe it until that wait ends.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) setCurrentTag(tg tag.Tag) {
	s.mu.Lock()
	s.currentTag = tg
	s.mu.Unlock()
}

func (s *Scheduler) isStopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *Scheduler) getShutdownAt() (tag.Tag, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownAt == nil {
		return tag.Tag{}, false
	}
	return *s.shutdownAt, true
}

// RequestShutdown implements reaction.Backend: it records the earliest
// requested shutdown tag, so a later, larger request never overrides
// an earlier, smaller one.
func (s *Scheduler) RequestShutdown(at tag.Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownAt == nil || tag.Less(at, *s.shutdownAt) {
		s.shutdownAt = &at
	}
}

// Now implements reaction.Backend.
func (s *Scheduler) Now() tag.Instant { return s.clock.Now() }

// ScheduleLogical implements reaction.Backend per §4.2.
func (s *Scheduler) ScheduleLogical(from tag.Tag, id action.ID, delay tag.Duration, value any) (tag.Tag, error) {
	ab, ok := s.actions[id]
	if !ok {
		return tag.Tag{}, fmt.Errorf("schedcore: unknown action %d", id)
	}
	tg := s.nextLogicalTag(ab, from, delay)
	if err := s.insertAction(ab, tg, value); err != nil {
		return tag.Tag{}, err
	}
	return tg, nil
}

// SchedulePhysical implements reaction.Backend: identical to
// ScheduleLogical but with the action's min-delay enforced.
func (s *Scheduler) SchedulePhysical(from tag.Tag, id action.ID, delay tag.Duration, value any) (tag.Tag, error) {
	ab, ok := s.actions[id]
	if !ok {
		return tag.Tag{}, fmt.Errorf("schedcore: unknown action %d", id)
	}
	if ab.MinDelay > delay {
		delay = ab.MinDelay
	}
	tg := s.nextLogicalTag(ab, from, delay)
	if err := s.insertAction(ab, tg, value); err != nil {
		return tag.Tag{}, err
	}
	return tg, nil
}

func (s *Scheduler) nextLogicalTag(ab *ActionBinding, from tag.Tag, delay tag.Duration) tag.Tag {
	if delay > 0 {
		return from.After(delay)
	}
	ms := ab.Store.NextMicrostepForOffset(from.Offset, from.Microstep+1)
	return tag.Tag{Offset: from.Offset, Microstep: ms}
}

// insertAction pushes v into ab's store and the event queue, and, for
// a physical action with an active recorder, appends the insertion to
// the recording before any reaction observes it — per §9's ordering
// note, recording happens at insertion time, not at drain time. A
// recorder write failure breaks the determinism guarantee a replay
// depends on, so it is fatal rather than merely logged: the error
// propagates to the caller to unwind Run().
func (s *Scheduler) insertAction(ab *ActionBinding, tg tag.Tag, v any) error {
	ab.Store.PushAny(tg, v)
	s.queue.Push(tg, ab.ID, v)
	if s.recorder != nil && ab.Kind == action.Physical {
		if err := s.recorder.Record(ab.ID, tg, v); err != nil {
			return fmt.Errorf("schedcore: record action %d: %w", ab.ID, err)
		}
	}
	return nil
}

// GetActionValue implements reaction.Backend.
func (s *Scheduler) GetActionValue(id action.ID, current tag.Tag) (any, bool) {
	ab, ok := s.actions[id]
	if !ok {
		return nil, false
	}
	return ab.Store.GetCurrentAny(current)
}

// Run drives the scheduler's main loop until it reaches Stopped or ctx
// is cancelled, whichever comes first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.setState(Running)
	s.armTimers()

	if s.replayer != nil {
		if err := s.loadReplayedEvents(); err != nil {
			return s.fatal(err)
		}
	}

	for {
		if s.isStopRequested() {
			break
		}

		tg, ok, err := s.selectNextTag(ctx)
		if err != nil {
			return s.fatal(err)
		}
		if !ok {
			break
		}
		if at, has := s.getShutdownAt(); has && tag.Compare(tg, at) > 0 {
			break
		}
		if s.cfg.HasTimedOut(tg.Offset) {
			break
		}

		if !s.cfg.FastForward {
			if err := s.waitForWallClock(ctx, tg); err != nil {
				if errors.Is(err, errReselect) {
					continue
				}
				return s.fatal(err)
			}
		}

		if err := s.runTag(ctx, tg); err != nil {
			return s.fatal(err)
		}

		if at, has := s.getShutdownAt(); has && tag.Compare(tg, at) >= 0 {
			break
		}
	}

	s.setState(Stopping)
	if s.recorder != nil {
		_ = s.recorder.Flush()
	}
	s.setState(Stopped)
	return nil
}

// fatal logs a Run-ending error and transitions to Stopped before
// returning it, so every fatal exit path (replay load, tag selection,
// wall-clock wait, tag execution) is logged the same way.
func (s *Scheduler) fatal(err error) error {
	s.log.Errorf("schedcore: fatal: %v", err)
	s.setState(Stopped)
	return err
}

// selectNextTag implements §4.1 step 1: pop the next tag if one is
// already queued, otherwise park for the earliest of a new ingress
// arrival, a shutdown signal, or context cancellation.
func (s *Scheduler) selectNextTag(ctx context.Context) (tag.Tag, bool, error) {
	for {
		if tg, ok := s.queue.NextTag(); ok {
			return tg, true, nil
		}
		if s.ing == nil && !s.cfg.Keepalive {
			return tag.Tag{}, false, nil
		}
		if s.ing == nil {
			// Keepalive with no ingress registered has nothing left to
			// wait on; park on cancellation only.
			<-ctx.Done()
			return tag.Tag{}, false, ctx.Err()
		}
		select {
		case msg, open := <-s.ing.Messages():
			if !open {
				return tag.Tag{}, false, nil
			}
			if err := s.admitIngressBatch(msg); err != nil {
				return tag.Tag{}, false, err
			}
		case <-s.ing.Done():
			return tag.Tag{}, false, nil
		case <-ctx.Done():
			return tag.Tag{}, false, ctx.Err()
		}
	}
}

// wallClockSpinThreshold is the remaining-wait cutoff below which
// waitForWallClock spins on ingress.ParkNanos instead of arming a
// runtime timer: at this granularity the timer's own scheduling
// jitter can exceed the wait, and a missed ingress interruption for a
// few hundred microseconds is immaterial to §5's synchronization
// guarantee.
const wallClockSpinThreshold = 200 * time.Microsecond

// physicalRegressionTolerance is how far s.clock.Now() may read behind
// the last observed reading before observePhysical treats it as a
// clock fault rather than ordinary jitter between two nearly
// back-to-back reads.
const physicalRegressionTolerance = time.Millisecond

// observePhysical reads the physical clock and rejects a backward jump
// beyond physicalRegressionTolerance: §4.1 lists "scheduler failed to
// acquire physical time monotonically" as a fatal condition, since a
// clock that runs backwards can assign an earlier physical offset to a
// later-arriving event, directly violating §5's tag-monotonicity
// guarantee.
func (s *Scheduler) observePhysical() (tag.Duration, error) {
	now := tag.Duration(s.clock.Now())
	if now < s.lastPhysical-tag.Duration(physicalRegressionTolerance) {
		return 0, fmt.Errorf("schedcore: physical clock regressed from %s to %s", s.lastPhysical, now)
	}
	if now > s.lastPhysical {
		s.lastPhysical = now
	}
	return now, nil
}

// waitForWallClock implements §4.1 step 2. A fresh ingress arrival
// during the wait might have queued an earlier tag, so it returns
// errReselect to send the main loop back to selectNextTag rather than
// committing to the tag it was called with.
func (s *Scheduler) waitForWallClock(ctx context.Context, tg tag.Tag) error {
	for {
		now, err := s.observePhysical()
		if err != nil {
			return err
		}
		remaining := tg.Offset - now
		if remaining <= 0 {
			return nil
		}
		if remaining <= tag.Duration(wallClockSpinThreshold) {
			ingress.ParkNanos(time.Duration(remaining))
			return nil
		}
		if remaining > tag.Duration(config.WallClockWaitCap) {
			remaining = tag.Duration(config.WallClockWaitCap)
		}
		wait := time.NewTimer(time.Duration(remaining))

		var ingressCh <-chan ingress.Message
		if s.ing != nil {
			ingressCh = s.ing.Messages()
		}

		select {
		case <-wait.C:
			continue
		case msg, open := <-ingressCh:
			wait.Stop()
			if !open {
				return nil
			}
			if err := s.admitIngressBatch(msg); err != nil {
				return err
			}
			return errReselect
		case <-ctx.Done():
			wait.Stop()
			return ctx.Err()
		}
	}
}

// admitIngressBatch admits msg and, under PhysicalCatchupLazy, drains
// whatever else has already arrived on the ingress channel without
// blocking, stamping the whole batch against a single wall-clock read.
// This is what §9 Open Question 1's "Lazy" policy means in practice:
// several near-simultaneous arrivals share one wall-time sync instead
// of each jumping the logical clock forward in turn. It stops and
// returns the first error (e.g. a recorder write failure), leaving any
// remaining buffered messages for the next reselect.
func (s *Scheduler) admitIngressBatch(msg ingress.Message) error {
	if s.cfg.PhysicalCatchup != config.PhysicalCatchupLazy {
		phys, err := s.observePhysical()
		if err != nil {
			return err
		}
		return s.admitIngress(msg, phys)
	}

	phys, err := s.observePhysical()
	if err != nil {
		return err
	}
	if err := s.admitIngress(msg, phys); err != nil {
		return err
	}
	for {
		select {
		case next, open := <-s.ing.Messages():
			if !open {
				return nil
			}
			if err := s.admitIngress(next, phys); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// admitIngress assigns a tag to a live physical-ingress message per
// §4.2's external-call rule, unless the message carries a pre-stamped
// tag (the Replayer path bypasses this entirely by queueing events
// directly, never through admitIngress). phys is the wall-clock offset
// to stamp against; callers pass a shared reading when batching under
// PhysicalCatchupLazy.
func (s *Scheduler) admitIngress(msg ingress.Message, phys tag.Duration) error {
	ab, ok := s.actions[msg.Action]
	if !ok {
		return nil
	}
	if msg.PreStamped != nil {
		return s.insertAction(ab, *msg.PreStamped, msg.Payload)
	}

	cur := s.currentTagSnapshot()
	offset := phys
	if cur.Offset > offset {
		offset = cur.Offset
	}
	delay := msg.DelayHint
	if ab.MinDelay > delay {
		delay = ab.MinDelay
	}
	offset += delay

	var ms uint32
	if offset > cur.Offset {
		ms = ab.Store.NextMicrostepForOffset(offset, 0)
	} else {
		// Same-offset rule per §4.2: floor the microstep at one past
		// whatever the scheduler has already executed at this offset,
		// not at the action's own (possibly empty) bucket, so a fresh
		// action firing here can never land behind the in-flight tag.
		ms = ab.Store.NextMicrostepForOffset(offset, cur.Microstep+1)
	}
	return s.insertAction(ab, tag.Tag{Offset: offset, Microstep: ms}, msg.Payload)
}

func (s *Scheduler) currentTagSnapshot() tag.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTag
}

// armTimers schedules each timer's very first firing.
func (s *Scheduler) armTimers() {
	for _, tb := range s.timers {
		if next, ok := tb.Schedule.NextFiring(beforeStart); ok {
			s.queue.Push(tag.New(next, 0), timerQueueID(tb.Index), nil)
		}
	}
}

// rearmTimer schedules tb's next firing after afterOffset, applying
// its catch-up policy to any firings missed while fast-forward was
// off and wall-clock time ran ahead of the logical clock.
func (s *Scheduler) rearmTimer(tb *TimerBinding, afterOffset tag.Duration) error {
	upTo := afterOffset
	if !s.cfg.FastForward {
		now, err := s.observePhysical()
		if err != nil {
			return err
		}
		if now > upTo {
			upTo = now
		}
	}
	for _, missed := range timer.PendingFirings(tb.Schedule, afterOffset, upTo, tb.Catchup) {
		s.queue.Push(tag.New(missed, 0), timerQueueID(tb.Index), nil)
	}
	if next, ok := tb.Schedule.NextFiring(upTo); ok {
		s.queue.Push(tag.New(next, 0), timerQueueID(tb.Index), nil)
	}
	return nil
}

// loadReplayedEvents feeds every recorded event into the queue at its
// exact original tag, skipping §4.2's tag synthesis entirely.
func (s *Scheduler) loadReplayedEvents() error {
	for {
		ev, err := s.replayer.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("schedcore: replay: %w", err)
		}
		ab, ok := s.actions[ev.Action]
		if !ok {
			return fmt.Errorf("schedcore: replay references unknown action %d", ev.Action)
		}
		ab.Store.PushAny(ev.Tag, ev.Value)
		s.queue.Push(ev.Tag, ev.Action, ev.Value)
	}
}

// runTag implements §4.1 steps 3 through 7 for one popped tag.
func (s *Scheduler) runTag(ctx context.Context, tg tag.Tag) error {
	s.setCurrentTag(tg)
	drained := s.queue.DrainAt(tg)

	initial := make([]graph.TriggerID, 0, len(drained))
	for _, e := range drained {
		if idx, isTimer := timerIndexFromQueueID(e.Action); isTimer {
			tb := s.timers[idx]
			initial = append(initial, graph.TimerTrigger(tb.Index))
			if err := s.rearmTimer(tb, tg.Offset); err != nil {
				return err
			}
			continue
		}
		initial = append(initial, graph.ActionTrigger(e.Action))
	}

	if s.collector != nil {
		s.collector.ObserveTag(tg)
		s.collector.QueueDepth.Set(float64(s.queue.Len()))
	}

	if err := s.runLevels(ctx, tg, initial); err != nil {
		return err
	}

	s.ports.ClearTag()
	cleanupBoundary := tag.Tag{Offset: tg.Offset, Microstep: tg.Microstep + 1}
	for _, ab := range s.actions {
		ab.Store.ClearOlderThan(cleanupBoundary)
	}
	return nil
}

// runLevels implements §4.1 step 5 and §4.4's trigger propagation: a
// port written by a lower level can trigger a reaction at a higher
// level within the same tag, so the present-trigger set grows as each
// level completes rather than being fixed for the whole tag upfront.
func (s *Scheduler) runLevels(ctx context.Context, tg tag.Tag, initial []graph.TriggerID) error {
	s.graph.ResetMarks()
	s.graph.MarkTriggers(initial)

	present := make(map[graph.TriggerID]struct{}, len(initial))
	for _, t := range initial {
		present[t] = struct{}{}
	}

	for level := 0; level < s.graph.NumLevels(); level++ {
		if level > 0 && s.isStopRequested() {
			return nil
		}
		batch := s.graph.BatchAtLevel(uint32(level))
		if len(batch) == 0 {
			continue
		}
		if err := s.runLevel(ctx, tg, present, batch); err != nil {
			return err
		}

		var newTriggers []graph.TriggerID
		for _, pid := range s.ports.Dirty() {
			trg := graph.PortTrigger(pid)
			if _, seen := present[trg]; seen {
				continue
			}
			present[trg] = struct{}{}
			newTriggers = append(newTriggers, trg)
		}
		if len(newTriggers) > 0 {
			s.graph.MarkTriggers(newTriggers)
		}
	}
	return nil
}

// runLevel executes every reaction in batch. Reactions within a level
// have disjoint effect sets by construction (§4.4), so when workers >
// 1 they run concurrently, bounded by errgroup's limit, rejoining
// before the next level starts.
func (s *Scheduler) runLevel(ctx context.Context, tg tag.Tag, present map[graph.TriggerID]struct{}, batch []graph.ReactionID) error {
	if s.workers <= 1 || len(batch) <= 1 {
		for _, rid := range batch {
			if err := s.runReaction(ctx, tg, present, rid); err != nil {
				return err
			}
		}
		return nil
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(s.workers)
	for _, rid := range batch {
		rid := rid
		grp.Go(func() error { return s.runReaction(gctx, tg, present, rid) })
	}
	return grp.Wait()
}

func (s *Scheduler) runReaction(ctx context.Context, tg tag.Tag, present map[graph.TriggerID]struct{}, rid graph.ReactionID) (err error) {
	meta := s.graph.Reaction(rid)
	name := meta.Name
	if name == "" {
		name = fmt.Sprintf("reaction-%d", rid)
	}

	endSpan := s.startSpan(ctx, name, tg)
	defer endSpan()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("schedcore: reaction %d (%s) panicked at tag %s: %v", rid, name, tg, r)
			s.log.Errorf("%v", err)
		}
	}()

	body, ok := s.program[rid]
	if !ok {
		return fmt.Errorf("schedcore: no body registered for reaction %d", rid)
	}

	start := time.Now()
	rctx := reaction.NewContext(tg, present, s.ports, s)
	err = body(rctx)

	if s.collector != nil {
		s.collector.ReactionsRun.WithLabelValues(name).Inc()
		s.collector.ReactionLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *Scheduler) startSpan(ctx context.Context, name string, tg tag.Tag) func() {
	_, span := telemetry.StartReactionSpan(ctx, name, tg)
	return func() { span.End() }
}

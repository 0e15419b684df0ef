package player

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/amaumene/gostreamd/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Config tunes the playback engine.
type Config struct {
	// FetchTimeout bounds a single manifest or segment request.
	FetchTimeout time.Duration

	// RetryInitialInterval and RetryMultiplier shape the backoff between
	// segment fetch attempts. MaxFetchRetries counts retries after the
	// first attempt; only when all attempts fail does the fetch count as
	// one failure toward MaxConsecutiveFailures.
	RetryInitialInterval   time.Duration
	RetryMultiplier        float64
	MaxFetchRetries        uint64
	MaxConsecutiveFailures int

	// LowWatermarkSeconds triggers rebuffering when the lookahead drops
	// below it. HighWatermarkSeconds must be reached before playback
	// resumes after a stall.
	LowWatermarkSeconds  float64
	HighWatermarkSeconds float64

	// ThroughputSafetyMargin scales the measured throughput before
	// comparing it against variant bandwidths. ThroughputWindow is the
	// number of recent segment downloads averaged.
	ThroughputSafetyMargin float64
	ThroughputWindow       int

	// Supports filters the variant set to what this client can decode.
	// Nil means every variant is playable.
	Supports func(models.QualityVariant) bool
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		FetchTimeout:           15 * time.Second,
		RetryInitialInterval:   500 * time.Millisecond,
		RetryMultiplier:        3,
		MaxFetchRetries:        2,
		MaxConsecutiveFailures: 3,
		LowWatermarkSeconds:    10,
		HighWatermarkSeconds:   30,
		ThroughputSafetyMargin: 0.8,
		ThroughputWindow:       5,
	}
}

// Status is a point-in-time snapshot of the engine.
type Status struct {
	State    State
	TitleID  string
	Position float64
	Duration float64
	Quality  string
	Auto     bool
	Buffered []TimeRange
}

// Engine is the client playback state machine. All state lives on a single
// goroutine; public methods post messages to it, and network fetches run on
// short-lived goroutines that report back the same way. Completion messages
// carry the session token they were started under, so results from an
// abandoned load can never touch the current session.
type Engine struct {
	cfg       Config
	manifests ManifestSource
	segments  SegmentSource
	listener  Listener
	sink      Sink
	logger    *logrus.Logger

	msgs chan message
	done chan struct{}

	// Owned by the loop goroutine.
	state State
	sess  *session
}

type session struct {
	token   uuid.UUID
	ctx     context.Context
	cancel  context.CancelFunc
	titleID string

	manifest models.Manifest
	segments []models.Segment
	starts   []float64
	duration float64

	position  float64
	buffered  []TimeRange
	nextIndex int
	fetchGen  int
	inFlight  bool

	selected   int
	manual     int // last explicit selection, carried across retries
	auto       bool
	estimator  *throughputEstimator
	failures   int
	fellBack   bool
	userPaused bool
}

// timeEpsilon absorbs float rounding when comparing media timestamps.
const timeEpsilon = 0.001

type message interface{}

type cmdLoad struct{ titleID string }
type cmdRetry struct{}
type cmdPlay struct{}
type cmdPause struct{}
type cmdSeek struct{ target float64 }
type cmdSetQuality struct{ label string }
type cmdAdvance struct{ seconds float64 }
type cmdStop struct{ ack chan struct{} }
type cmdClose struct{}
type qrySnapshot struct{ reply chan Status }

type evManifest struct {
	token    uuid.UUID
	manifest models.Manifest
	err      error
}

type evPlaylist struct {
	token    uuid.UUID
	playlist models.VariantPlaylist
	err      error
}

type evSegment struct {
	token uuid.UUID
	gen   int
	index int
	data  SegmentData
	err   error
}

// New creates an engine and starts its loop. The listener may be nil, the
// sink may be nil.
func New(manifests ManifestSource, segments SegmentSource, listener Listener, sink Sink, cfg Config, logger *logrus.Logger) *Engine {
	if listener == nil {
		listener = NopListener{}
	}
	e := &Engine{
		cfg:       cfg,
		manifests: manifests,
		segments:  segments,
		listener:  listener,
		sink:      sink,
		logger:    logger,
		msgs:      make(chan message, 64),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	go e.loop()
	return e
}

// Load starts playback of a title, abandoning any current session.
func (e *Engine) Load(titleID string) { e.post(cmdLoad{titleID: titleID}) }

// Retry restarts the current title after a retryable error, keeping any
// manual quality selection.
func (e *Engine) Retry() { e.post(cmdRetry{}) }

// Play resumes from Paused.
func (e *Engine) Play() { e.post(cmdPlay{}) }

// Pause pauses playback. Buffering continues in the background.
func (e *Engine) Pause() { e.post(cmdPause{}) }

// Seek moves the playhead. Targets outside the title are clamped.
func (e *Engine) Seek(seconds float64) { e.post(cmdSeek{target: seconds}) }

// SetQuality pins a variant by label, or re-enables adaptation when given
// models.QualityAuto.
func (e *Engine) SetQuality(label string) { e.post(cmdSetQuality{label: label}) }

// Advance moves media time forward by the embedder's render clock. The
// engine has no timer of its own; position only moves through this call.
func (e *Engine) Advance(seconds float64) { e.post(cmdAdvance{seconds: seconds}) }

// Stop cancels all pending work and releases the sink before returning.
func (e *Engine) Stop() {
	ack := make(chan struct{})
	e.post(cmdStop{ack: ack})
	select {
	case <-ack:
	case <-e.done:
	}
}

// Close stops the engine goroutine. The engine is unusable afterwards.
func (e *Engine) Close() {
	e.post(cmdClose{})
	<-e.done
}

// Snapshot returns the current engine status. It also acts as a barrier:
// every message posted before it has been processed when it returns.
func (e *Engine) Snapshot() Status {
	reply := make(chan Status, 1)
	e.post(qrySnapshot{reply: reply})
	select {
	case s := <-reply:
		return s
	case <-e.done:
		return Status{State: StateIdle}
	}
}

// State returns the current playback state.
func (e *Engine) State() State { return e.Snapshot().State }

func (e *Engine) post(m message) {
	select {
	case e.msgs <- m:
	case <-e.done:
	}
}

func (e *Engine) loop() {
	defer close(e.done)

	for m := range e.msgs {
		switch msg := m.(type) {
		case cmdLoad:
			e.handleLoad(msg.titleID, true, 0)
		case cmdRetry:
			e.handleRetry()
		case cmdPlay:
			e.handlePlay()
		case cmdPause:
			e.handlePause()
		case cmdSeek:
			e.handleSeek(msg.target)
		case cmdSetQuality:
			e.handleSetQuality(msg.label)
		case cmdAdvance:
			e.handleAdvance(msg.seconds)
		case cmdStop:
			e.handleStop()
			close(msg.ack)
		case cmdClose:
			e.handleStop()
			return
		case qrySnapshot:
			msg.reply <- e.snapshot()
		case evManifest:
			e.handleManifest(msg)
		case evPlaylist:
			e.handlePlaylist(msg)
		case evSegment:
			e.handleSegment(msg)
		}
	}
}

func (e *Engine) snapshot() Status {
	st := Status{State: e.state}
	if e.sess != nil {
		st.TitleID = e.sess.titleID
		st.Position = e.sess.position
		st.Duration = e.sess.duration
		st.Auto = e.sess.auto
		st.Buffered = append([]TimeRange(nil), e.sess.buffered...)
		if e.sess.selected < len(e.sess.manifest.Variants) {
			st.Quality = string(e.sess.manifest.Variants[e.sess.selected].Label)
		}
	}
	return st
}

func (e *Engine) setState(s State) {
	if e.state == s {
		return
	}
	old := e.state
	e.state = s
	e.listener.StateChanged(old, s)
}

func (e *Engine) errored(kind ErrorKind, msg string, retryable bool) {
	if e.sess != nil {
		e.sess.cancel()
		e.sess.inFlight = false
		e.sess.fetchGen++
	}
	e.logger.WithFields(logrus.Fields{
		"kind":      kind,
		"retryable": retryable,
	}).Error(msg)
	e.setState(StateErrored)
	e.listener.PlaybackError(kind, msg, retryable)
}

func (e *Engine) handleLoad(titleID string, auto bool, selected int) {
	if e.sess != nil {
		e.sess.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.sess = &session{
		token:     uuid.New(),
		ctx:       ctx,
		cancel:    cancel,
		titleID:   titleID,
		auto:      auto,
		selected:  selected,
		manual:    selected,
		estimator: newThroughputEstimator(e.cfg.ThroughputWindow),
	}
	e.setState(StateLoading)

	e.logger.WithField("title_id", titleID).Info("Loading title")

	go func(ctx context.Context, token uuid.UUID, id string) {
		fctx, fcancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer fcancel()
		m, err := e.manifests.Master(fctx, id)
		e.post(evManifest{token: token, manifest: m, err: err})
	}(ctx, e.sess.token, titleID)
}

func (e *Engine) handleRetry() {
	if e.sess == nil || e.state != StateErrored {
		return
	}
	e.handleLoad(e.sess.titleID, e.sess.auto, e.sess.manual)
}

func (e *Engine) handleManifest(msg evManifest) {
	s := e.sess
	if s == nil || msg.token != s.token {
		return
	}
	if msg.err != nil {
		e.errored(ErrorManifestUnavailable, fmt.Sprintf("manifest fetch failed: %v", msg.err), true)
		return
	}

	m := msg.manifest
	if e.cfg.Supports != nil {
		playable := m.Variants[:0:0]
		for _, v := range m.Variants {
			if e.cfg.Supports(v) {
				playable = append(playable, v)
			}
		}
		m.Variants = playable
	}
	if len(m.Variants) == 0 {
		e.errored(ErrorUnsupported, "no playable variant offered for this title", false)
		return
	}

	s.manifest = m
	// A carried-over selection can point past a smaller variant set.
	if s.selected >= len(m.Variants) {
		s.selected = len(m.Variants) - 1
	}
	if s.selected < 0 {
		s.selected = 0
	}

	quality := m.Variants[s.selected].Label
	go func(ctx context.Context, token uuid.UUID, id string, q models.QualityLabel) {
		fctx, fcancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer fcancel()
		pl, err := e.manifests.Playlist(fctx, id, q)
		e.post(evPlaylist{token: token, playlist: pl, err: err})
	}(s.ctx, s.token, s.titleID, quality)
}

func (e *Engine) handlePlaylist(msg evPlaylist) {
	s := e.sess
	if s == nil || msg.token != s.token {
		return
	}
	if msg.err != nil {
		e.errored(ErrorManifestUnavailable, fmt.Sprintf("playlist fetch failed: %v", msg.err), true)
		return
	}

	s.segments = msg.playlist.Segments
	s.starts = make([]float64, len(s.segments))
	var at float64
	for i, seg := range s.segments {
		s.starts[i] = at
		at += seg.Duration
	}
	s.duration = at

	if s.userPaused {
		e.setState(StatePaused)
	} else {
		e.setState(StatePlaying)
	}
	e.listener.QualityChanged(string(s.manifest.Variants[s.selected].Label))
	e.startFetch()
}

func (e *Engine) startFetch() {
	s := e.sess
	if s == nil || s.inFlight {
		return
	}
	// Skip segments the buffer already covers, e.g. after refilling a gap
	// that merges into ranges fetched before a seek.
	for s.nextIndex < len(s.segments) {
		start := s.starts[s.nextIndex]
		if s.bufferedEnd(start) < start+s.segments[s.nextIndex].Duration-timeEpsilon {
			break
		}
		s.nextIndex++
	}
	if s.nextIndex >= len(s.segments) {
		return
	}
	s.inFlight = true
	quality := s.manifest.Variants[s.selected].Label
	go e.fetchSegment(s.ctx, s.token, s.fetchGen, s.nextIndex, s.titleID, quality)
}

func (e *Engine) fetchSegment(ctx context.Context, token uuid.UUID, gen, index int, titleID string, quality models.QualityLabel) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.RetryInitialInterval
	bo.Multiplier = e.cfg.RetryMultiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = e.cfg.FetchTimeout
	bo.Reset()

	var data SegmentData
	op := func() error {
		fctx, fcancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer fcancel()
		d, err := e.segments.FetchSegment(fctx, titleID, quality, index)
		if err != nil {
			if !models.Retryable(err) && ctx.Err() == nil {
				return backoff.Permanent(err)
			}
			return err
		}
		data = d
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, e.cfg.MaxFetchRetries), ctx))
	e.post(evSegment{token: token, gen: gen, index: index, data: data, err: err})
}

func (e *Engine) handleSegment(msg evSegment) {
	s := e.sess
	if s == nil || msg.token != s.token || msg.gen != s.fetchGen {
		return
	}
	s.inFlight = false

	if msg.err != nil {
		s.failures++
		e.logger.WithFields(logrus.Fields{
			"title_id": s.titleID,
			"segment":  msg.index,
			"failures": s.failures,
		}).WithError(msg.err).Warn("Segment fetch failed")

		if s.failures < e.cfg.MaxConsecutiveFailures {
			e.startFetch()
			return
		}
		if !s.fellBack && s.selected != 0 {
			// One shot at the lowest variant before giving up.
			s.fellBack = true
			s.failures = 0
			s.selected = 0
			// Throughput samples from the failing variant would push an
			// AUTO session straight back up the ladder.
			s.estimator.Reset()
			e.listener.QualityChanged(string(s.manifest.Variants[0].Label))
			e.logger.WithField("title_id", s.titleID).Warn("Falling back to lowest variant")
			e.startFetch()
			return
		}
		e.errored(ErrorFatalPlayback, fmt.Sprintf("segment %d unavailable after repeated attempts: %v", msg.index, msg.err), true)
		return
	}

	s.failures = 0
	s.estimator.Record(len(msg.data.Payload), msg.data.Elapsed)

	if e.sink != nil {
		if err := e.sink.Write(msg.data.Payload); err != nil {
			e.logger.WithError(err).Error("Sink write failed")
		}
	}

	start := s.starts[msg.index]
	s.addBuffered(TimeRange{Start: start, End: start + s.segments[msg.index].Duration})
	s.nextIndex = msg.index + 1

	if s.auto {
		next := pickVariant(s.manifest.Variants, s.selected, s.estimator.Estimate(), e.cfg.ThroughputSafetyMargin)
		if next != s.selected {
			s.selected = next
			e.listener.QualityChanged(string(s.manifest.Variants[next].Label))
		}
	}

	if e.state == StateBuffering {
		lookahead := s.bufferedEnd(s.position) - s.position
		if lookahead >= e.cfg.HighWatermarkSeconds || s.bufferedEnd(s.position) >= s.duration-timeEpsilon {
			e.setState(StatePlaying)
		}
	}

	e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
	e.startFetch()
}

func (e *Engine) handleAdvance(seconds float64) {
	s := e.sess
	if s == nil || e.state != StatePlaying || seconds <= 0 {
		return
	}

	newPos := s.position + seconds
	if newPos >= s.duration {
		s.position = s.duration
		e.setState(StateEnded)
		e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
		return
	}

	end := s.bufferedEnd(s.position)
	if newPos >= end || end-newPos < e.cfg.LowWatermarkSeconds {
		// Only a buffer reaching the end of the title plays out below the
		// watermark; a range ending short of that is a hole to refill,
		// whether it is the live edge or a gap a seek left behind.
		if end >= s.duration-timeEpsilon {
			s.position = newPos
			e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
			return
		}
		if newPos > end {
			newPos = end
		}
		s.position = newPos
		e.setState(StateBuffering)
		e.listener.PlaybackError(ErrorPlaybackStalled, "buffer underrun, waiting for data", true)
		e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
		e.refillFrom(end)
		return
	}

	s.position = newPos
	e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
}

// refillFrom points fetching at the segment containing the given media time
// and resumes it, abandoning an in-flight fetch aimed elsewhere.
func (e *Engine) refillFrom(at float64) {
	s := e.sess
	target := s.indexForTime(at)
	if !(s.inFlight && s.nextIndex == target) {
		if s.inFlight {
			s.fetchGen++
			s.inFlight = false
		}
		s.nextIndex = target
	}
	e.startFetch()
}

func (e *Engine) handleSeek(target float64) {
	s := e.sess
	if s == nil || len(s.segments) == 0 {
		return
	}
	switch e.state {
	case StatePlaying, StatePaused, StateBuffering, StateEnded:
	default:
		return
	}

	if target < 0 {
		target = 0
	}
	if target >= s.duration {
		target = s.duration - 0.001
		if target < 0 {
			target = 0
		}
	}

	s.position = target

	if s.bufferedContains(target) {
		if e.state == StateEnded {
			e.setState(statePlayOrPause(s))
		}
		e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
		return
	}

	// Out of buffer: abandon the in-flight fetch and restart from the
	// segment containing the target.
	s.fetchGen++
	s.inFlight = false
	s.nextIndex = s.indexForTime(target)

	if s.userPaused {
		e.setState(StatePaused)
	} else {
		e.setState(StateBuffering)
	}
	e.listener.Progress(s.position, append([]TimeRange(nil), s.buffered...))
	e.startFetch()
}

func statePlayOrPause(s *session) State {
	if s.userPaused {
		return StatePaused
	}
	return StatePlaying
}

func (e *Engine) handlePause() {
	s := e.sess
	if s == nil {
		return
	}
	s.userPaused = true
	switch e.state {
	case StatePlaying, StateBuffering:
		e.setState(StatePaused)
	}
}

func (e *Engine) handlePlay() {
	s := e.sess
	if s == nil {
		return
	}
	s.userPaused = false
	if e.state != StatePaused {
		return
	}

	lookahead := s.bufferedEnd(s.position) - s.position
	if lookahead >= e.cfg.LowWatermarkSeconds || s.bufferedEnd(s.position) >= s.duration-timeEpsilon {
		e.setState(StatePlaying)
	} else {
		e.setState(StateBuffering)
		e.startFetch()
	}
}

func (e *Engine) handleSetQuality(label string) {
	s := e.sess
	if s == nil || len(s.manifest.Variants) == 0 {
		return
	}

	if label == models.QualityAuto {
		s.auto = true
		return
	}

	idx := -1
	for i, v := range s.manifest.Variants {
		if string(v.Label) == label {
			idx = i
			break
		}
	}
	if idx == -1 {
		e.logger.WithField("quality", label).Warn("Ignoring unknown quality selection")
		return
	}

	s.auto = false
	s.manual = idx
	if idx == s.selected {
		return
	}
	s.selected = idx
	s.failures = 0
	s.fetchGen++
	s.inFlight = false
	e.listener.QualityChanged(string(s.manifest.Variants[idx].Label))
	e.startFetch()
}

func (e *Engine) handleStop() {
	if e.sess != nil {
		e.sess.cancel()
		e.sess = nil
	}
	if e.sink != nil {
		e.sink.Release()
	}
	e.setState(StateIdle)
}

// addBuffered inserts a range and coalesces the list, so a fill that bridges
// two existing ranges collapses them into one. The list stays sorted by start.
func (s *session) addBuffered(r TimeRange) {
	const eps = timeEpsilon
	s.buffered = append(s.buffered, r)
	sort.Slice(s.buffered, func(i, j int) bool {
		return s.buffered[i].Start < s.buffered[j].Start
	})

	merged := s.buffered[:1]
	for _, b := range s.buffered[1:] {
		last := &merged[len(merged)-1]
		if b.Start <= last.End+eps {
			if b.End > last.End {
				last.End = b.End
			}
			continue
		}
		merged = append(merged, b)
	}
	s.buffered = merged
}

// bufferedEnd returns the end of the buffered range covering pos, or pos
// itself when nothing is buffered there.
func (s *session) bufferedEnd(pos float64) float64 {
	const eps = timeEpsilon
	for _, b := range s.buffered {
		if pos >= b.Start-eps && pos < b.End+eps {
			return b.End
		}
	}
	return pos
}

func (s *session) bufferedContains(pos float64) bool {
	return s.bufferedEnd(pos) > pos
}

func (s *session) indexForTime(pos float64) int {
	for i := len(s.starts) - 1; i >= 0; i-- {
		if pos >= s.starts[i] {
			return i
		}
	}
	return 0
}

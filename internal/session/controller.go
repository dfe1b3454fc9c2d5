package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mindfield/internal/clock"
	"mindfield/internal/coherence"
	"mindfield/internal/logging"
	"mindfield/internal/stats"
)

// BitSource yields whitened random bits, most significant bit first.
// Implemented by the DRBG.
type BitSource interface {
	DrawBits(n int) (uint64, error)
}

// Controller errors.
var (
	// ErrBusy reports a start while a session is already active. Baseline
	// and experiment may only be entered from idle; there is no direct
	// transition between them.
	ErrBusy = errors.New("session: a session is already running")

	// ErrNotRunning reports a stop or marker with no active session.
	ErrNotRunning = errors.New("session: no session running")
)

// Config holds the controller's tunables. All values come from the daemon
// configuration surface.
type Config struct {
	RateHz           int
	BitsPerTick      int
	BaselineDuration time.Duration
	StalenessTicks   uint64
	Threshold        float64
	HysteresisBand   float64
	ReadingQueueSize int
}

// markerRequest is a queued manual marker, applied at the next tick boundary.
type markerRequest struct {
	label string
	at    time.Time
}

// Controller is the session state machine. It owns the stats engine and the
// coherence aggregator; the DRBG is injected and persists across sessions
// (the entropy pool is process-lifetime).
//
// Concurrency: sensor collaborators push readings into a bounded queue from
// their own goroutines; all session state is consumed and mutated on the
// sampling goroutine at tick boundaries only (single writer per session).
type Controller struct {
	cfg    Config
	rng    BitSource
	engine *stats.Engine
	agg    *coherence.Aggregator
	log    *logging.Logger

	exporters []Exporter

	readings chan coherence.Reading
	markers  chan markerRequest
	dropped  atomic.Uint64

	mu       sync.Mutex
	mode     Mode
	current  *Session
	baseline *BaselineSummary
	cancel   context.CancelFunc
	done     chan struct{}
	sampler  *clock.Sampler

	tickCount atomic.Uint64
	lastSnap  atomic.Pointer[Snapshot]
}

// NewController creates an idle controller.
func NewController(cfg Config, rng BitSource, log *logging.Logger, exporters ...Exporter) *Controller {
	if log == nil {
		log = logging.Default()
	}
	if cfg.RateHz <= 0 {
		cfg.RateHz = 100
	}
	if cfg.ReadingQueueSize <= 0 {
		cfg.ReadingQueueSize = 256
	}
	if cfg.BitsPerTick <= 0 {
		cfg.BitsPerTick = 8
	}
	return &Controller{
		cfg:       cfg,
		rng:       rng,
		engine:    &stats.Engine{},
		agg:       coherence.NewAggregator(cfg.StalenessTicks, cfg.Threshold, cfg.HysteresisBand),
		log:       log.Component("session"),
		exporters: exporters,
		readings:  make(chan coherence.Reading, cfg.ReadingQueueSize),
		markers:   make(chan markerRequest, 16),
	}
}

// Mode returns the current controller state.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Baseline returns the retained baseline summary, nil when none completed.
func (c *Controller) Baseline() *BaselineSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseline
}

// RestoreBaseline installs a previously stored baseline summary, e.g. after
// a daemon restart. Only allowed while idle.
func (c *Controller) RestoreBaseline(b *BaselineSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != ModeIdle {
		return ErrBusy
	}
	c.baseline = b
	return nil
}

// StartBaseline transitions Idle -> Baseline. The session runs for the
// configured fixed duration and seals itself, retaining its summary for
// later experiments and overwriting any prior baseline.
func (c *Controller) StartBaseline(name string) (string, error) {
	return c.start(ModeBaseline, name, "")
}

// StartExperiment transitions Idle -> Experiment. The session runs until
// Stop and carries a reference to the completed baseline, if any.
func (c *Controller) StartExperiment(name, intention string) (string, error) {
	return c.start(ModeExperiment, name, intention)
}

func (c *Controller) start(mode Mode, name, intention string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeIdle {
		return "", ErrBusy
	}

	sess := &Session{
		ID:        newSessionID(),
		Name:      name,
		Intention: intention,
		Mode:      mode,
		StartedAt: time.Now(),
	}
	if mode == ModeExperiment {
		sess.Baseline = c.baseline
	}

	// Per-session accumulators reset; the DRBG state persists.
	c.engine.Reset()
	c.agg.Reset()
	c.tickCount.Store(0)
	c.lastSnap.Store(nil)
	c.drainQueues()

	ctx, cancel := context.WithCancel(context.Background())
	c.mode = mode
	c.current = sess
	c.cancel = cancel
	c.done = make(chan struct{})
	c.sampler = clock.NewSampler(time.Second/time.Duration(c.cfg.RateHz), c.log)

	go c.run(ctx, sess, c.sampler, c.done)

	c.log.Info("session started", "mode", mode.String(), "id", sess.ID, "name", name)
	return sess.ID, nil
}

// Stop ends the active session, seals it, and exports it. It returns once
// the session is sealed; cancellation is effective within one tick period.
func (c *Controller) Stop() (*Summary, error) {
	c.mu.Lock()
	if c.mode == ModeIdle {
		c.mu.Unlock()
		return nil, ErrNotRunning
	}
	sess := c.current
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	<-done

	return &sess.Summary, nil
}

// Mark queues a manual marker, applied at the next tick boundary. Allowed in
// baseline and experiment.
func (c *Controller) Mark(label string) error {
	c.mu.Lock()
	running := c.mode != ModeIdle
	c.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case c.markers <- markerRequest{label: label, at: time.Now()}:
		return nil
	default:
		return errors.New("session: marker queue full")
	}
}

// PushReading delivers a sensor coherence reading. Never blocks: when the
// bounded queue is full the oldest reading is dropped, since a fresher value
// for the same device supersedes it anyway.
func (c *Controller) PushReading(deviceID string, value float64) {
	r := coherence.Reading{DeviceID: deviceID, Value: value}
	for {
		select {
		case c.readings <- r:
			return
		default:
			select {
			case <-c.readings:
				c.dropped.Add(1)
			default:
			}
		}
	}
}

// DroppedReadings returns how many sensor readings were shed under pressure.
func (c *Controller) DroppedReadings() uint64 { return c.dropped.Load() }

// Status is the live view served over IPC.
type Status struct {
	Mode        string    `json:"mode"`
	SessionID   string    `json:"session_id,omitempty"`
	SessionName string    `json:"session_name,omitempty"`
	Tick        uint64    `json:"tick"`
	Last        *Snapshot `json:"last,omitempty"`
	HasBaseline bool      `json:"has_baseline"`
	Overruns    uint64    `json:"overruns"`
}

// Status returns the current mode, tick, and latest snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Mode:        c.mode.String(),
		HasBaseline: c.baseline != nil,
	}
	if c.current != nil {
		st.SessionID = c.current.ID
		st.SessionName = c.current.Name
	}
	if c.sampler != nil {
		st.Overruns = c.sampler.Overruns()
	}
	c.mu.Unlock()

	st.Tick = c.tickCount.Load()
	st.Last = c.lastSnap.Load()
	return st
}

// run owns the sampling loop for one session and the seal that follows it.
func (c *Controller) run(ctx context.Context, sess *Session, sampler *clock.Sampler, done chan struct{}) {
	defer close(done)

	baselineTicks := uint64(0)
	if sess.Mode == ModeBaseline {
		baselineTicks = uint64(c.cfg.BaselineDuration / sampler.Period())
	}

	sampler.Run(ctx, func(tick uint64) {
		c.onTick(sess, tick)
		if baselineTicks > 0 && tick+1 >= baselineTicks {
			c.cancel()
		}
	})

	c.seal(sess, sampler.Overruns())
}

// onTick performs one synchronized sampling step. It runs exclusively on the
// sampling goroutine.
func (c *Controller) onTick(sess *Session, tick uint64) {
	now := time.Now()

	// Bit draws. The only failure mode is a closed DRBG, which cannot
	// happen while a session holds it; degrade by skipping the
	// observation rather than aborting.
	bits, err := c.rng.DrawBits(c.cfg.BitsPerTick)
	if err == nil {
		c.engine.Observe(bits, c.cfg.BitsPerTick)
	} else {
		c.log.Error("bit draw failed", "tick", tick, "error", err)
	}

	// Ingest queued sensor readings, stamped with the tick whose window
	// they arrived in, then advance the staleness window.
	for {
		select {
		case r := <-c.readings:
			r.Tick = tick
			c.agg.Ingest(r)
			continue
		default:
		}
		break
	}
	c.agg.Advance(tick)

	markerFlag := false
	var markerReason MarkerReason

	// Manual markers first.
	for {
		select {
		case req := <-c.markers:
			sess.Markers = append(sess.Markers, Marker{
				Tick:   tick,
				At:     req.at,
				Reason: MarkerManual,
				Label:  req.label,
			})
			c.engine.MarkerReset()
			markerFlag = true
			markerReason = MarkerManual
			continue
		default:
		}
		break
	}

	// Automatic markers are evaluated during experiments only.
	var agg coherence.Aggregate
	if sess.Mode == ModeExperiment {
		var fired bool
		fired, agg = c.agg.ThresholdCrossed()
		if fired {
			sess.Markers = append(sess.Markers, Marker{
				Tick:      tick,
				At:        now,
				Reason:    MarkerAutoThreshold,
				Coherence: agg.Value,
			})
			c.engine.MarkerReset()
			markerFlag = true
			markerReason = MarkerAutoThreshold
		}
	} else {
		agg = c.agg.Current()
	}

	since := c.engine.SinceStart()
	window := c.engine.SinceMarker()

	snap := Snapshot{
		Tick:         tick,
		At:           now,
		Since:        since,
		Window:       window,
		Coherence:    agg,
		MarkerFlag:   markerFlag,
		MarkerReason: markerReason,
	}
	if sess.Mode == ModeExperiment && sess.Baseline != nil && sess.Baseline.Mean != 0 {
		snap.EffectSize = (since.Mean - sess.Baseline.Mean) / sess.Baseline.Mean
		snap.EffectValid = true
	}

	sess.Snapshots = append(sess.Snapshots, snap)
	c.lastSnap.Store(&snap)
	c.tickCount.Store(tick + 1)
}

// seal finalizes the session, retains baseline summaries, exports, and
// returns the controller to idle.
func (c *Controller) seal(sess *Session, overruns uint64) {
	sess.EndedAt = time.Now()

	since := c.engine.SinceStart()
	sess.Summary = Summary{
		SessionID:     sess.ID,
		Mode:          sess.Mode.String(),
		Name:          sess.Name,
		Intention:     sess.Intention,
		StartedAt:     sess.StartedAt,
		EndedAt:       sess.EndedAt,
		TotalTicks:    uint64(len(sess.Snapshots)),
		BitCount:      since.Count,
		FinalMean:     since.Mean,
		FinalVariance: since.Variance,
		FinalZ:        since.ZScore,
		ZValid:        since.ZValid,
		MarkerCount:   len(sess.Markers),
		Overruns:      overruns,
	}
	if sess.Mode == ModeExperiment {
		if sess.Baseline != nil {
			sess.Summary.BaselineID = sess.Baseline.SessionID
			if sess.Baseline.Mean != 0 {
				sess.Summary.EffectSize = (since.Mean - sess.Baseline.Mean) / sess.Baseline.Mean
				sess.Summary.EffectValid = true
			}
		}
	}
	sess.sealed = true

	c.mu.Lock()
	if sess.Mode == ModeBaseline && since.Count > 0 {
		c.baseline = &BaselineSummary{
			SessionID:   sess.ID,
			Mean:        since.Mean,
			Variance:    since.Variance,
			BitCount:    since.Count,
			Ticks:       uint64(len(sess.Snapshots)),
			CompletedAt: sess.EndedAt,
		}
	}
	c.mode = ModeIdle
	c.current = nil
	c.cancel = nil
	c.mu.Unlock()

	for _, exp := range c.exporters {
		if err := exp.Export(sess); err != nil {
			c.log.Error("session export failed", "id", sess.ID, "error", err)
		}
	}

	c.log.Info("session sealed",
		"id", sess.ID,
		"mode", sess.Mode.String(),
		"ticks", sess.Summary.TotalTicks,
		"mean", sess.Summary.FinalMean,
		"markers", sess.Summary.MarkerCount)
}

// drainQueues empties stale readings and marker requests from a previous
// session. Callers hold c.mu.
func (c *Controller) drainQueues() {
	for {
		select {
		case <-c.readings:
		case <-c.markers:
		default:
			return
		}
	}
}

// Package frame implements the Frame Controller (component G): per-frame
// signal accumulation feeding a transition/grace state machine that the
// Work Scheduler (pkg/scheduler) consults before admitting background work.
//
// The 60-slot frame-time history is a ring with a write cursor taken modulo
// historySize, after joeycumines-go-utilpkg/catrate/ring.go, specialized to a fixed-size array
// since the window length is a spec-fixed constant (60) rather than a
// runtime-growable buffer.
//
// © 2025 fabric authors. MIT License.
package frame

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Tuning constants for the transition/grace state machine.
const (
	historySize   = 60
	spikeMs       = 25.0
	cooldown      = 1000 * time.Millisecond
	graceDuration = 300 * time.Millisecond
	extGraceAfter = 150 * time.Millisecond
	thresholdEMA  = 0.01
)

// State is one of {Idle, Transition, Grace, ExtendedGrace}; exactly one is
// active at a time.
type State int

const (
	Idle State = iota
	Transition
	Grace
	ExtendedGrace
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Transition:
		return "transition"
	case Grace:
		return "grace"
	case ExtendedGrace:
		return "extended_grace"
	default:
		return "unknown"
	}
}

type frameSample struct {
	frameTimeMs float64
	shaders     int
	textures    int
}

// ring is a fixed-capacity circular history of the last historySize frame
// samples, indexed by a write cursor taken modulo historySize.
type ring struct {
	buf [historySize]frameSample
	w   uint
	n   int
}

func (r *ring) push(s frameSample) {
	r.buf[r.w%historySize] = s
	r.w++
	if r.n < historySize {
		r.n++
	}
}

func (r *ring) countExceeding(ms float64) int {
	n := 0
	for i := 0; i < r.n; i++ {
		if r.buf[i].frameTimeMs > ms {
			n++
		}
	}
	return n
}

// Controller is the single process-wide Frame Controller. Construct with
// New; most callers should use the Global() singleton instead, reset on ROM
// switch and never destroyed before shutdown.
type Controller struct {
	mu sync.Mutex

	state           State
	transitionStart time.Time
	graceEnd        time.Time
	extGraceEnd     time.Time
	lastEnd         time.Time
	lastFrameStart  time.Time

	consecutiveLight int
	consecutiveHeavy int

	history ring

	// per-frame accumulators, reset at end_frame.
	shadersThisFrame  int
	texturesThisFrame int
	buffersThisFrame  int

	adaptiveShaderThreshold  float64
	adaptiveTextureThreshold float64

	// atomics mirror the slow-path state above for lock-free queries from
	// worker threads, updated last in EndFrame so a reader never observes a
	// new state with stale per-state budgets.
	snapState        atomic.Int32
	snapSyncScale    atomic.Uint64 // math.Float64bits
	snapMaxShaders   atomic.Int64
	snapMaxTextures  atomic.Int64
	snapMaxWorkItems atomic.Int64
	snapDeferShader  atomic.Bool
	snapFrameSkip    atomic.Bool

	metrics metricsSink
	logger  *zap.Logger
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithMetrics enables Prometheus gauges for state and adaptive thresholds.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Controller) {
		if reg != nil {
			c.metrics = newPromMetrics(reg)
		}
	}
}

// WithLogger plugs an external zap.Logger for state transitions.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Controller in the Idle state.
func New(opts ...Option) *Controller {
	c := &Controller{
		adaptiveShaderThreshold:  2,
		adaptiveTextureThreshold: 3,
		metrics:                  noopMetrics{},
		logger:                   zap.NewNop(),
		lastFrameStart:           time.Time{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publishSnapshot()
	return c
}

var (
	globalOnce sync.Once
	global     *Controller
)

// Global returns the process-wide Controller singleton, constructing it
// with default options on first call.
func Global() *Controller {
	globalOnce.Do(func() { global = New() })
	return global
}

// ResetGlobal replaces the global singleton, for use on ROM switch.
func ResetGlobal(opts ...Option) {
	global = New(opts...)
}

// RecordShader records one shader compiled this frame.
func (c *Controller) RecordShader() {
	c.mu.Lock()
	c.shadersThisFrame++
	c.mu.Unlock()
}

// RecordTexture records one texture loaded this frame.
func (c *Controller) RecordTexture() {
	c.mu.Lock()
	c.texturesThisFrame++
	c.mu.Unlock()
}

// RecordBufferUpload records one buffer upload this frame.
func (c *Controller) RecordBufferUpload() {
	c.mu.Lock()
	c.buffersThisFrame++
	c.mu.Unlock()
}

// EndFrame is the only state-transition point; called once per frame by the
// render thread. now is the monotonic instant the frame ended.
func (c *Controller) EndFrame(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frameTimeMs := 0.0
	if !c.lastFrameStart.IsZero() {
		frameTimeMs = float64(now.Sub(c.lastFrameStart)) / float64(time.Millisecond)
	}
	c.lastFrameStart = now
	c.history.push(frameSample{frameTimeMs: frameTimeMs, shaders: c.shadersThisFrame, textures: c.texturesThisFrame})

	switch c.state {
	case ExtendedGrace:
		if !now.Before(c.extGraceEnd) {
			c.enterState(Idle)
		}
	case Grace:
		// The frame-counting cooldown tracked below runs the whole time
		// Grace is active, not just after some separate Transition phase:
		// a spike puts both the grace deadline and the light/heavy frame
		// count in motion at once, and whichever clears first ends Grace.
		light := c.shadersThisFrame < 2 && c.texturesThisFrame < 3 && frameTimeMs < spikeMs
		if light {
			c.consecutiveLight++
			c.consecutiveHeavy = 0
		} else {
			c.consecutiveHeavy++
			c.consecutiveLight = 0
		}
		elapsed := now.Sub(c.transitionStart)
		graceElapsed := !now.Before(c.graceEnd)
		cooledDown := elapsed >= cooldown || c.consecutiveLight >= 20
		if graceElapsed || cooledDown {
			c.enterState(ExtendedGrace)
			c.extGraceEnd = now.Add(extGraceAfter)
			c.lastEnd = now
		}
	case Idle:
		if c.lastEnd.IsZero() || now.Sub(c.lastEnd) > cooldown {
			if c.spikeDetected(frameTimeMs) {
				c.enterState(Grace)
				c.graceEnd = now.Add(graceDuration)
				c.transitionStart = now
				c.consecutiveLight = 0
				c.consecutiveHeavy = 0
			}
		}
	}

	c.adaptiveShaderThreshold = ema(c.adaptiveShaderThreshold, max(2, 0.8*float64(c.shadersThisFrame)))
	c.adaptiveTextureThreshold = ema(c.adaptiveTextureThreshold, max(3, 0.8*float64(c.texturesThisFrame)))

	c.shadersThisFrame = 0
	c.texturesThisFrame = 0
	c.buffersThisFrame = 0

	c.publishSnapshot()
}

func (c *Controller) spikeDetected(frameTimeMs float64) bool {
	shaderSpike := float64(c.shadersThisFrame) >= c.adaptiveShaderThreshold
	textureSpike := float64(c.texturesThisFrame) >= c.adaptiveTextureThreshold
	combined := c.shadersThisFrame >= 2 && c.texturesThisFrame >= 3
	frameTimeSpike := frameTimeMs > spikeMs && (c.shadersThisFrame > 0 || c.texturesThisFrame > 2)
	heavyPattern := c.history.countExceeding(spikeMs) >= 3
	return shaderSpike || textureSpike || combined || frameTimeSpike || heavyPattern
}

func (c *Controller) enterState(s State) {
	prev := c.state
	c.state = s
	if prev != s {
		c.logger.Sugar().Debugw("frame controller state transition", "from", prev, "to", s)
		c.metrics.setState(s)
	}
}

func ema(prev, observed float64) float64 {
	return prev + thresholdEMA*(observed-prev)
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// publishSnapshot writes the atomic mirrors used by ShouldDeferShaderBuild
// etc, so worker threads never take c.mu on the read path. Must be called
// with c.mu held, and last, so a reader never observes a state transition
// without its matching budget values.
func (c *Controller) publishSnapshot() {
	var syncScale float64
	var maxShaders, maxTextures, maxWorkItems int64
	deferShader := false
	frameSkip := false

	switch c.state {
	case Grace:
		syncScale, maxShaders, maxTextures, maxWorkItems, deferShader, frameSkip = 0.05, 1, 2, 4, true, true
	case ExtendedGrace:
		syncScale, maxShaders, maxTextures, maxWorkItems, deferShader, frameSkip = 0.1, 1, 1, 2, true, false
	case Transition:
		// Not produced by EndFrame's own transitions (a spike goes
		// straight Idle->Grace, counting the light/heavy cooldown while
		// already in Grace); kept so the exhaustive switch has sane
		// numbers if something ever sets this state directly.
		syncScale, maxShaders, maxTextures, maxWorkItems, deferShader, frameSkip = 0.3, 2, 3, 6, true, false
	default: // Idle
		syncScale, maxShaders, maxTextures, maxWorkItems, deferShader, frameSkip = 1.0, 8, 8, 16, false, false
	}

	c.snapSyncScale.Store(floatBits(syncScale))
	c.snapMaxShaders.Store(maxShaders)
	c.snapMaxTextures.Store(maxTextures)
	c.snapMaxWorkItems.Store(maxWorkItems)
	c.snapDeferShader.Store(deferShader)
	c.snapFrameSkip.Store(frameSkip)
	c.snapState.Store(int32(c.state))

	c.metrics.setState(c.state)
	c.metrics.setSyncScale(syncScale)
}

// State returns the current transition state, lock-free.
func (c *Controller) State() State { return State(c.snapState.Load()) }

// ShouldDeferShaderBuild reports whether shader builds should be deferred
// this frame.
func (c *Controller) ShouldDeferShaderBuild() bool { return c.snapDeferShader.Load() }

// MaxShadersThisFrame returns the admitted shader-build budget.
func (c *Controller) MaxShadersThisFrame() int { return int(c.snapMaxShaders.Load()) }

// MaxTexturesThisFrame returns the admitted texture-load budget.
func (c *Controller) MaxTexturesThisFrame() int { return int(c.snapMaxTextures.Load()) }

// MaxWorkItemsThisFrame returns the admitted background-work-item budget,
// consulted by pkg/scheduler's admission rule.
func (c *Controller) MaxWorkItemsThisFrame() int { return int(c.snapMaxWorkItems.Load()) }

// SyncTimeoutScale returns the current wait-timeout scale factor (1.0 in
// Idle down to 0.05 in Grace).
func (c *Controller) SyncTimeoutScale() float64 { return bitsFloat(c.snapSyncScale.Load()) }

// RecommendedFrameSkip reports whether the caller should consider skipping
// non-essential per-frame work entirely.
func (c *Controller) RecommendedFrameSkip() bool { return c.snapFrameSkip.Load() }

// IsHeavyLoad reports Transition or Grace/ExtendedGrace, the condition
// pkg/scheduler treats as "heavy-load" when deciding admission.
func (c *Controller) IsHeavyLoad() bool {
	switch c.State() {
	case Transition, Grace, ExtendedGrace:
		return true
	default:
		return false
	}
}

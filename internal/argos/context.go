package argos

import (
	"fmt"
	"sync"

	"github.com/cherry-wb/argos/internal/config"
	"github.com/cherry-wb/argos/internal/log"
	"github.com/cherry-wb/argos/internal/tracelog"
)

// Phase is the tracker's state machine position: Idle -> Analyzing ->
// Tracking -> Idle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAnalyzing
	PhaseTracking
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Status is a point-in-time, concurrency-safe copy of a TrackingContext's
// state, for the status endpoint and dashboard. Nothing outside this
// package ever reads TrackingContext's unexported fields directly.
type Status struct {
	Phase            Phase
	TrackedCR3       uint32
	InstructionCount uint32
	Stage            uint8
	PendingSyscall   bool
	ModuleCount      int
}

// TrackingContext is the shellcode tracking state machine. It is built
// around a single-writer assumption: every entry point (StoreContext,
// LogInstruction, CheckFunctionCall, IsValidSystemCall, ...) is called from
// the vCPU thread, in program order, once per executed instruction. The one
// exception is Snapshot, used by the status/dashboard surface from another
// goroutine; a small mutex guards just the fields Snapshot reads. Each entry
// point holds it only briefly, to read the phase or update a counter, and
// never across a trace write or a guest-memory read.
type TrackingContext struct {
	cpu   CPUContext
	tr    Translator
	taint TaintSource
	ssc   SingleStepController
	sink  *tracelog.Sink

	stopCondition   config.StopCondition
	maxInstructions uint32
	userKernelSplit uint32

	mu               sync.Mutex
	phase            Phase
	tracked          TrackedIdentity
	modules          *ModuleList
	instructionCount uint32
	reportedStage    uint8
	pendingSyscall   bool

	rec  recordedInstruction
	load loadStoreEvent
	str  loadStoreEvent
}

// Open constructs a TrackingContext in the Idle phase with its trace sink
// open, ready for Enable to be called once a tainted instruction is about
// to execute.
func Open(cpu CPUContext, tr Translator, taint TaintSource, ssc SingleStepController, logPath string, cfg config.Config) (*TrackingContext, error) {
	sink, err := tracelog.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open tracking context: %w", err)
	}
	return &TrackingContext{
		cpu:             cpu,
		tr:              tr,
		taint:           taint,
		ssc:             ssc,
		sink:            sink,
		stopCondition:   cfg.StopCondition,
		maxInstructions: cfg.MaxInstructions,
		userKernelSplit: cfg.UserKernelSplit,
		phase:           PhaseIdle,
	}, nil
}

func (tc *TrackingContext) reader() *GuestReader {
	return NewGuestReader(tc.tr)
}

// IsActive reports whether the tracker is in the Analyzing or Tracking
// phase.
func (tc *TrackingContext) IsActive() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.phase != PhaseIdle
}

// Enable transitions Idle -> Analyzing -> Tracking: it pins the tracked
// identity to the CPU's current CR3 and thread id, walks the current
// thread's loaded-module list, then arms single-step mode. A loader that
// hasn't finished initializing yet (or a missing TEB/PEB/Ldr chain) still
// leaves the tracker in Tracking with an empty module list; call-site
// resolution degrades to "non-imported" for every call in that case, it
// does not block tracking from starting.
func (tc *TrackingContext) Enable() {
	r := tc.reader()

	tc.mu.Lock()
	tc.tracked.CR3 = tc.cpu.CR3()
	tid, _ := currentThreadID(tc.cpu, r)
	tc.tracked.ThreadID = tid
	tc.phase = PhaseAnalyzing
	tc.instructionCount = 0
	tc.reportedStage = 0
	tc.pendingSyscall = false
	cr3 := tc.tracked.CR3
	tc.mu.Unlock()
	log.L.PhaseChange(PhaseIdle.String(), PhaseAnalyzing.String(), uint64(cr3))

	list := EnumerateModules(r, tc.cpu.SegmentBase(SegFS), ModuleWalkBound)

	tc.mu.Lock()
	tc.modules = list
	tc.phase = PhaseTracking
	tc.mu.Unlock()
	log.L.PhaseChange(PhaseAnalyzing.String(), PhaseTracking.String(), uint64(cr3))

	tc.ssc.SetSingleStep(true)
}

// Stop transitions back to Idle, disarms single-step mode, and closes the
// trace sink. It is safe to call more than once.
func (tc *TrackingContext) Stop() error {
	tc.mu.Lock()
	from := tc.phase
	cr3 := tc.tracked.CR3
	tc.phase = PhaseIdle
	tc.modules = nil
	sink := tc.sink
	tc.sink = nil
	tc.mu.Unlock()
	if from != PhaseIdle {
		log.L.PhaseChange(from.String(), PhaseIdle.String(), uint64(cr3))
	}

	tc.ssc.SetSingleStep(false)

	if sink == nil {
		return nil
	}
	return sink.Close()
}

// Snapshot returns a copy of the tracker's current state for a reader on
// another goroutine.
func (tc *TrackingContext) Snapshot() Status {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return Status{
		Phase:            tc.phase,
		TrackedCR3:       tc.tracked.CR3,
		InstructionCount: tc.instructionCount,
		Stage:            tc.reportedStage,
		PendingSyscall:   tc.pendingSyscall,
		ModuleCount:      tc.modules.Len(),
	}
}

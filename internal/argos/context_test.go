package argos

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cherry-wb/argos/internal/config"
)

func newTestContext(t *testing.T, cpu *fakeCPU, mem *fakeMemory, taint *fakeTaint, ssc *fakeSSC, cfg config.Config) (*TrackingContext, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.log")
	tc, err := Open(cpu, mem, taint, ssc, path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = tc.Stop() })
	return tc, path
}

func readTrace(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	return string(data)
}

func TestEnableWalksIdleAnalyzingTracking(t *testing.T) {
	cpu := &fakeCPU{cr3: 0x1000, fsBase: 0x9000}
	mem := newFakeMemory()
	// Loader never finished initializing: Enable must still land in Tracking
	// with an empty module list rather than getting stuck in Analyzing.
	mem.writeU32(0x9000+offTEBPeb, 0x9100)
	mem.writeU32(0x9100+offPEBLdr, 0x9200)
	mem.writeU8(0x9200+offLdrInitialized, 0)
	mem.writeU32(0x9000+offTEBThreadID, 42)

	taint := newFakeTaint()
	ssc := &fakeSSC{}
	tc, _ := newTestContext(t, cpu, mem, taint, ssc, config.Default())

	if tc.IsActive() {
		t.Fatalf("expected Idle before Enable")
	}
	tc.Enable()
	if !tc.IsActive() {
		t.Fatalf("expected active after Enable")
	}
	snap := tc.Snapshot()
	if snap.Phase != PhaseTracking {
		t.Fatalf("got phase %v, want Tracking", snap.Phase)
	}
	if snap.TrackedCR3 != 0x1000 {
		t.Fatalf("got tracked CR3 %#x", snap.TrackedCR3)
	}
	if !ssc.singleStep {
		t.Fatalf("expected single-step armed")
	}
}

func TestStopReturnsToIdleAndDisarmsSingleStep(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000}
	mem := newFakeMemory()
	taint := newFakeTaint()
	ssc := &fakeSSC{}
	tc, path := newTestContext(t, cpu, mem, taint, ssc, config.Default())

	tc.Enable()
	if err := tc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if tc.IsActive() {
		t.Fatalf("expected Idle after Stop")
	}
	if ssc.singleStep {
		t.Fatalf("expected single-step disarmed after Stop")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("trace file should still exist: %v", err)
	}
}

func TestStoreContextRequiresTrackedContextAndTaintedPC(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000, eip: 0x4000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	mem.writeU8(0x4000, 0x90) // NOP
	taint := newFakeTaint()
	ssc := &fakeSSC{}
	tc, _ := newTestContext(t, cpu, mem, taint, ssc, config.Default())
	tc.Enable()

	// Not tainted yet: StoreContext should decline.
	tc.StoreContext()
	if tc.rec.pending {
		t.Fatalf("expected no pending capture for a clean PC")
	}

	taint.taintRange(0x4000, 1, 1)
	tc.StoreContext()
	if !tc.rec.pending {
		t.Fatalf("expected a pending capture once the destination PC is tainted")
	}

	// Switching CR3 (a context switch away) must stop captures even though
	// the PC is still tainted.
	tc.rec.pending = false
	cpu.cr3 = 0xDEAD
	tc.StoreContext()
	if tc.rec.pending {
		t.Fatalf("expected no capture outside the tracked address space")
	}
}

func TestStoreContextGuardsAgainstRecaptureOfSamePC(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000, eip: 0x4000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	mem.writeU8(0x4000, 0x90)
	taint := newFakeTaint()
	taint.taintRange(0x4000, 1, 1)
	ssc := &fakeSSC{}
	tc, _ := newTestContext(t, cpu, mem, taint, ssc, config.Default())
	tc.Enable()

	tc.StoreContext()
	firstBytesLen := len(tc.rec.bytes)
	tc.rec.bytes = append(tc.rec.bytes, 0xCC) // corrupt, to detect a re-capture
	tc.StoreContext()
	if len(tc.rec.bytes) != firstBytesLen+1 {
		t.Fatalf("StoreContext re-captured the same PC instead of skipping")
	}
}

func TestLogInstructionWritesTraceLineAndAdvancesStage(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000, eip: 0x4000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	mem.writeU8(0x4000, 0x90)
	taint := newFakeTaint()
	taint.taintRange(0x4000, 1, 3)
	ssc := &fakeSSC{}
	tc, path := newTestContext(t, cpu, mem, taint, ssc, config.Default())
	tc.Enable()

	tc.StoreContext()
	tc.LogInstruction()

	out := readTrace(t, path)
	if !strings.Contains(out, "Stage 0 -> 3") {
		t.Fatalf("expected a stage transition line, got: %q", out)
	}
	if !strings.Contains(out, "0x4000") {
		t.Fatalf("expected the PC in the trace line, got: %q", out)
	}
	if tc.Snapshot().InstructionCount != 1 {
		t.Fatalf("expected instruction count 1, got %d", tc.Snapshot().InstructionCount)
	}

	// A LogInstruction call with nothing pending must be a no-op.
	tc.LogInstruction()
	if tc.Snapshot().InstructionCount != 1 {
		t.Fatalf("expected instruction count to stay at 1, got %d", tc.Snapshot().InstructionCount)
	}
}

func TestMaxInstructionsStopCondition(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000, eip: 0x4000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	mem.writeU8(0x4000, 0x90)
	taint := newFakeTaint()
	taint.taintRange(0x4000, 1, 1)
	ssc := &fakeSSC{}
	cfg := config.Default()
	cfg.StopCondition = config.StopMaxInstructions
	cfg.MaxInstructions = 1
	tc, _ := newTestContext(t, cpu, mem, taint, ssc, cfg)
	tc.Enable()

	tc.StoreContext()
	tc.LogInstruction()

	if tc.Snapshot().Phase != PhaseIdle {
		t.Fatalf("expected tracking to stop once the instruction ceiling is hit")
	}
	if !ssc.paused {
		t.Fatalf("expected Pause to be called")
	}
}

func TestLoadAndStoreEventsAnnotateMatchingInstruction(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000, eip: 0x4000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	mem.writeU8(0x4000, 0x90)
	taint := newFakeTaint()
	taint.taintRange(0x4000, 1, 1)
	ssc := &fakeSSC{}
	tc, path := newTestContext(t, cpu, mem, taint, ssc, config.Default())
	tc.Enable()

	tc.StoreContext()
	tc.RecordLoad(0x4000, 0xCAFE, 0x1234, 4, AddrHostVirtual, nil)
	tc.LogInstruction()

	out := readTrace(t, path)
	if !strings.Contains(out, "<- @0xcafe (0x1234)") {
		t.Fatalf("expected a load annotation, got: %q", out)
	}

	// A load recorded for a different PC must not bleed into the next line.
	cpu.eip = 0x4001
	mem.writeU8(0x4001, 0x90)
	taint.taintRange(0x4001, 1, 1)
	tc.RecordLoad(0x9999, 0, 0, 0, AddrHostVirtual, nil)
	tc.StoreContext()
	tc.LogInstruction()

	out = readTrace(t, path)
	if strings.Count(out, "<- @") != 1 {
		t.Fatalf("expected exactly one load annotation across both lines, got: %q", out)
	}
}

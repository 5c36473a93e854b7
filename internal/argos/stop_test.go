package argos

import (
	"strings"
	"testing"

	"github.com/cherry-wb/argos/internal/config"
)

func TestFirstSystemCallStopsTracking(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000, eax: 0x7C}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	taint := newFakeTaint()
	ssc := &fakeSSC{}
	tc, path := newTestContext(t, cpu, mem, taint, ssc, config.Default())
	tc.Enable()

	if valid := tc.IsValidSystemCall(); valid {
		t.Fatalf("expected the system call to be flagged invalid while tracking")
	}
	if !tc.LoggedInvalidSystemCall() {
		t.Fatalf("expected a pending invalid system call")
	}

	tc.CheckForInvalidSystemCall()

	if tc.Snapshot().Phase != PhaseIdle {
		t.Fatalf("expected tracking to stop after the first system call")
	}
	if !ssc.paused {
		t.Fatalf("expected Pause to be called")
	}
	out := readTrace(t, path)
	if !strings.Contains(out, "Prevented shellcode from calling system call 0x7c") {
		t.Fatalf("expected a diagnostic line, got: %q", out)
	}
}

func TestSystemCallOutsideTrackedContextIsValid(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	taint := newFakeTaint()
	ssc := &fakeSSC{}
	tc, _ := newTestContext(t, cpu, mem, taint, ssc, config.Default())
	tc.Enable()

	cpu.cr3 = 0xDEAD // context switched away
	if valid := tc.IsValidSystemCall(); !valid {
		t.Fatalf("expected the system call to be valid outside the tracked context")
	}
	if tc.LoggedInvalidSystemCall() {
		t.Fatalf("expected no pending invalid system call")
	}
}

func TestMaxInstructionsConfigDoesNotStopOnFirstSystemCall(t *testing.T) {
	cpu := &fakeCPU{cr3: 1, fsBase: 0x9000}
	mem := newFakeMemory()
	mem.writeU32(0x9000+offTEBThreadID, 7)
	taint := newFakeTaint()
	ssc := &fakeSSC{}
	cfg := config.Default()
	cfg.StopCondition = config.StopMaxInstructions
	tc, _ := newTestContext(t, cpu, mem, taint, ssc, cfg)
	tc.Enable()

	tc.IsValidSystemCall()
	tc.CheckForInvalidSystemCall()

	if tc.Snapshot().Phase != PhaseTracking {
		t.Fatalf("expected tracking to continue past a system call under the max-instructions stop condition")
	}
	if ssc.paused {
		t.Fatalf("expected no Pause call")
	}
}

package argos

import "github.com/cherry-wb/argos/internal/log"

// IsValidSystemCall is consulted before a system call instruction (int
// 0x2e / sysenter) is allowed to actually reach the kernel. While tracking
// is active in the tracked context, every system call is flagged invalid
// (the guest must not be allowed to actually make the call) and latched as
// pending; CheckForInvalidSystemCall decides, on the following instruction
// boundary, whether that pending flag should end the run.
func (tc *TrackingContext) IsValidSystemCall() bool {
	tc.mu.Lock()
	phase := tc.phase
	tracked := tc.tracked
	tc.mu.Unlock()

	if phase != PhaseTracking {
		return true
	}
	if !inTrackedContext(tc.cpu, tc.reader(), tracked) {
		return true
	}

	tc.mu.Lock()
	tc.pendingSyscall = true
	tc.mu.Unlock()
	return false
}

// CheckForInvalidSystemCall applies the first-system-call stop condition:
// if a system call was just flagged invalid and that is the configured
// stop condition, the run ends here. Unlike the other entry points this
// checks phase alone, not the full tracked-context identity: by this point
// the pending flag can only have been set from within the tracked context
// in the first place.
func (tc *TrackingContext) CheckForInvalidSystemCall() {
	tc.mu.Lock()
	pending := tc.pendingSyscall && tc.phase == PhaseTracking
	stopHere := pending && tc.stopCondition == "first_system_call"
	if stopHere {
		tc.pendingSyscall = false
		tc.phase = PhaseIdle
	}
	tc.mu.Unlock()

	if stopHere {
		eax := tc.cpu.EAX()
		_ = tc.sink.Writef("Prevented shellcode from calling system call %s.", hex32(eax))
		log.L.SyscallPrevented(uint64(eax), uint64(tc.cpu.EIP()))
		tc.ssc.Pause()
	}
}

// LoggedInvalidSystemCall reports whether a system call is currently
// flagged invalid and pending, for callers that need to suppress the
// call's normal side effects (e.g. the emulator deciding not to actually
// transfer control into the kernel handler).
func (tc *TrackingContext) LoggedInvalidSystemCall() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.phase == PhaseTracking && tc.pendingSyscall
}

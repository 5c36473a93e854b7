package argos

// CheckFunctionCall is the per-call-instruction entry point: called right
// after a call/jmp transfers control, while still in the tracked context.
// It resolves the destination against the loaded-module list built during
// Analyzing and writes a one-line diagnostic classifying the target as
// injected, non-imported, or a resolved import. A target at or above the
// user/kernel split, or inside a module but at none of its exports, writes
// nothing.
//
// The whole check runs under BlockTimerSignal: the module list and its
// per-module export index are read here without further locking, on the
// assumption that nothing else mutates them once Enable has finished the
// Analyzing phase, but the interval-timer handler elsewhere in the host
// process must not be allowed to observe this thread mid-resolution.
func (tc *TrackingContext) CheckFunctionCall() {
	restore := BlockTimerSignal()
	defer restore()

	tc.mu.Lock()
	phase := tc.phase
	tracked := tc.tracked
	modules := tc.modules
	split := tc.userKernelSplit
	tc.mu.Unlock()

	if phase != PhaseTracking {
		return
	}
	r := tc.reader()
	if !inTrackedContext(tc.cpu, r, tracked) {
		return
	}

	pc := tc.cpu.EIP()

	if tc.taint.IsDirty(pc) {
		_ = tc.sink.Writef("called injected function at %s", hex32(pc))
		return
	}

	if pc >= split {
		return
	}

	mod, exp, matched := modules.Resolve(pc)
	if mod == nil {
		_ = tc.sink.Writef("called non-imported function at %s", hex32(pc))
		return
	}
	if !matched {
		return
	}
	if exp.HasName {
		_ = tc.sink.Writef("Called %s from %s", exp.Name, mod.Name)
	} else {
		_ = tc.sink.Writef("Called @%d from %s", exp.Ordinal, mod.Name)
	}
}

package argos

import "golang.org/x/sys/unix"

// BlockTimerSignal blocks SIGALRM for the duration of a short, signal-unsafe
// operation (resolving a call site touches shared module state that the
// interval-timer handler must never observe half-updated) and returns a
// restore function the caller must defer immediately. The mask starts from
// an explicitly empty set before adding SIGALRM: the original tracker built
// this mask from an uninitialized sigset_t, which blocked whatever signals
// happened to be on the stack at the time in addition to SIGALRM.
func BlockTimerSignal() func() {
	var block unix.Sigset_t
	_ = unix.SigaddSet(&block, int(unix.SIGALRM))

	var prev unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &block, &prev); err != nil {
		return func() {}
	}
	return func() {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &prev, nil)
	}
}

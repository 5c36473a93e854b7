// Package cpux86 is the Unicorn Engine-backed x86-32 CPU model the tracking
// core runs against. It is the concrete, swappable "emulator side" of the
// four services internal/argos consumes through interfaces: CPUContext,
// Translator, and SingleStepController are implemented directly by Harness;
// TaintSource is supplied separately (internal/taint.Shadow), since taint
// propagation has nothing to do with the CPU model.
package cpux86

import (
	"fmt"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"golang.org/x/arch/x86/x86asm"

	"github.com/cherry-wb/argos/internal/argos"
)

// interruptSyscall is the classic Windows XP/2000 system-call gate.
const interruptSyscall = 0x2e

// Harness wraps a single Unicorn x86-32 engine instance.
//
// Unicorn has no native single-step mode, so the harness hooks every
// instruction boundary (uc.HOOK_CODE) and, once single-step is armed, stops
// the engine right after each one. That same hook drives the tracking core:
// on entry it finalizes the instruction that just executed (LogInstruction),
// resolves that instruction's call target if it was a CALL
// (CheckFunctionCall), then offers the next instruction to the core
// (StoreContext) before it executes. This is a deliberate simplification of
// the original design, where store_context/log_instruction/check_function_
// call are driven by three independent callback sites in the emulator's
// translation-block machinery; collapsing them onto one per-instruction
// hook is the natural shape for an interpreter-speed engine like Unicorn
// running in single-step mode, and preserves the call ordering each of the
// three entry points depends on.
type Harness struct {
	mu uc.Unicorn
	tc *argos.TrackingContext

	singleStep       bool
	expectCallTarget bool
}

// New creates an x86-32 Unicorn engine and installs the code hook that will
// drive tracking once a core is attached.
func New() (*Harness, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		return nil, fmt.Errorf("create x86-32 engine: %w", err)
	}
	h := &Harness{mu: mu}

	if _, err := mu.HookAdd(uc.HOOK_CODE, h.onCode, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("install code hook: %w", err)
	}
	if _, err := mu.HookAdd(uc.HOOK_INTR, h.onInterrupt, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("install interrupt hook: %w", err)
	}
	// HOOK_MEM_READ_AFTER, not HOOK_MEM_READ: the plain read hook fires
	// before Unicorn has the loaded value, and RecordLoad needs the value
	// for the trace line's load annotation.
	if _, err := mu.HookAdd(uc.HOOK_MEM_READ_AFTER, h.onMemRead, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("install mem read hook: %w", err)
	}
	if _, err := mu.HookAdd(uc.HOOK_MEM_WRITE, h.onMemWrite, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("install mem write hook: %w", err)
	}
	return h, nil
}

// AttachCore wires a tracking core into the harness's hooks. A Harness with
// no attached core is just a plain CPU/memory model, which is useful on its
// own in tests.
func (h *Harness) AttachCore(tc *argos.TrackingContext) {
	h.tc = tc
}

func (h *Harness) Close() error {
	return h.mu.Close()
}

func (h *Harness) MapMemory(addr, size uint64) error {
	if err := h.mu.MemMap(addr, size); err != nil {
		return fmt.Errorf("map guest memory at %#x (%d bytes): %w", addr, size, err)
	}
	return nil
}

func (h *Harness) WriteMemory(addr uint64, data []byte) error {
	return h.mu.MemWrite(addr, data)
}

// Run starts execution at start. When single-step is armed the engine stops
// itself after one instruction; callers drive a tracking run by calling Run
// repeatedly from the harness's current EIP.
func (h *Harness) Run(start, end uint64) error {
	return h.mu.Start(start, end)
}

func (h *Harness) onCode(mu uc.Unicorn, addr uint64, size uint32) {
	if h.tc != nil {
		h.tc.LogInstruction()
		if h.expectCallTarget {
			h.expectCallTarget = false
			h.tc.CheckFunctionCall()
		}
		h.tc.StoreContext()
	}

	if data, err := mu.MemRead(addr, uint64(size)); err == nil {
		if inst, derr := x86asm.Decode(data, 32); derr == nil && inst.Op == x86asm.CALL {
			h.expectCallTarget = true
		}
	}

	if h.singleStep {
		mu.Stop()
	}
}

// onMemRead and onMemWrite feed the load/store side channel from the raw
// Unicorn mem hooks. Unicorn never distinguishes a host-virtual TLB hit from
// a guest-physical slow path the way the original QEMU-based tracker did, so
// every access this harness reports is AddrHostVirtual; origin is nil
// because the harness holds no reference to the taint shadow to correlate
// per-byte provenance from a raw address/size/value triple.
func (h *Harness) onMemRead(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
	if h.tc == nil {
		return
	}
	h.tc.RecordLoad(h.EIP(), uint32(addr), uint32(value), uint32(size), argos.AddrHostVirtual, nil)
}

func (h *Harness) onMemWrite(mu uc.Unicorn, access int, addr uint64, size int, value int64) {
	if h.tc == nil {
		return
	}
	h.tc.RecordStore(h.EIP(), uint32(addr), uint32(value), uint32(size), argos.AddrHostVirtual, nil)
}

func (h *Harness) onInterrupt(mu uc.Unicorn, intno uint32) {
	if h.tc == nil || intno != interruptSyscall {
		return
	}
	if !h.tc.IsValidSystemCall() {
		mu.Stop()
	}
	h.tc.CheckForInvalidSystemCall()
}

// --- argos.CPUContext ---

func (h *Harness) EIP() uint32 {
	v, _ := h.mu.RegRead(uc.X86_REG_EIP)
	return uint32(v)
}

func (h *Harness) EAX() uint32 {
	v, _ := h.mu.RegRead(uc.X86_REG_EAX)
	return uint32(v)
}

func (h *Harness) CR3() uint32 {
	v, _ := h.mu.RegRead(uc.X86_REG_CR3)
	return uint32(v)
}

func (h *Harness) SegmentBase(seg argos.Segment) uint32 {
	if seg == argos.SegFS {
		v, _ := h.mu.RegRead(uc.X86_REG_FS_BASE)
		return uint32(v)
	}
	return 0
}

// --- argos.Translator ---

func (h *Harness) Translate(addr uint32, length uint32) ([]byte, bool) {
	data, err := h.mu.MemRead(uint64(addr), uint64(length))
	if err != nil {
		return nil, false
	}
	return data, true
}

// --- argos.SingleStepController ---

func (h *Harness) SetSingleStep(enabled bool) {
	h.singleStep = enabled
}

func (h *Harness) Pause() {
	_ = h.mu.Stop()
}

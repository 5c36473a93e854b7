package argos

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/cherry-wb/argos/internal/log"
)

// maxInstructionBytes bounds the longest x86 instruction encoding the
// recorder will ever need to buffer.
const maxInstructionBytes = 15

// recordedInstruction is the recorder's own scratch buffer: one instance,
// reused across every captured instruction. There is no shared, mutable
// disassembler state between calls; x86asm.Decode is invoked fresh against
// this buffer's bytes each time StoreContext captures a new instruction.
type recordedInstruction struct {
	pc      uint32
	bytes   []byte
	origin  []uint8
	stage   uint8
	disasm  string
	pending bool
}

// StoreContext is the per-instruction entry point called just before the
// guest executes the instruction at the current EIP. It captures the
// instruction's raw bytes and per-byte taint provenance when, and only
// when, all of the following hold:
//   - the tracker is in the Tracking phase,
//   - the CPU is currently in the tracked address space and thread,
//   - the destination PC is itself marked tainted, and
//   - this PC was not already captured by the previous call (guards
//     against being invoked twice for the same instruction, e.g. a
//     retried translation).
//
// A page that has since vanished out from under the read is a silent
// no-op: there is nothing to capture.
func (tc *TrackingContext) StoreContext() {
	tc.mu.Lock()
	phase := tc.phase
	tracked := tc.tracked
	tc.mu.Unlock()
	if phase != PhaseTracking {
		return
	}

	r := tc.reader()
	if !inTrackedContext(tc.cpu, r, tracked) {
		return
	}

	pc := tc.cpu.EIP()
	if !tc.taint.IsDirty(pc) {
		return
	}
	if tc.rec.pending && tc.rec.pc == pc {
		return
	}

	// Read up to maxInstructionBytes, shrinking the window when the tail
	// runs past the end of mapped memory; a short instruction at the end
	// of a mapping is still captured.
	var data []byte
	for n := uint32(maxInstructionBytes); n > 0 && data == nil; n-- {
		if b, ok := r.Bytes(pc, n); ok {
			data = b
		}
	}
	if data == nil {
		return
	}

	length := 1
	var disasm string
	inst, err := x86asm.Decode(data, 32)
	if err == nil && inst.Len > 0 {
		length = inst.Len
		disasm = x86asm.IntelSyntax(inst, uint64(pc), nil)
	} else {
		disasm = "(bad)"
	}
	if length > len(data) {
		length = len(data)
	}

	tc.rec.pc = pc
	tc.rec.bytes = append(tc.rec.bytes[:0], data[:length]...)
	tc.rec.origin = tc.rec.origin[:0]
	tc.rec.disasm = disasm

	var maxStage uint8
	for i := 0; i < length; i++ {
		origin := tc.taint.OriginIndex(pc + uint32(i))
		tc.rec.origin = append(tc.rec.origin, origin)
		if origin > maxStage {
			maxStage = origin
		}
	}
	tc.rec.stage = maxStage
	tc.rec.pending = true
}

// LogInstruction is called just after the guest executes the instruction
// StoreContext most recently captured. It writes one trace line, folds in
// any side-channel load/store event recorded for this PC, advances the
// reported taint stage when this instruction reached a new high-water
// mark, bumps the instruction counter, and applies the max-instructions
// stop condition. A call with nothing pending (StoreContext declined to
// capture, or LogInstruction already consumed the pending capture) is a
// no-op.
func (tc *TrackingContext) LogInstruction() {
	if !tc.rec.pending {
		return
	}
	tc.rec.pending = false

	tc.mu.Lock()
	if tc.rec.stage > tc.reportedStage {
		prev := tc.reportedStage
		tc.reportedStage = tc.rec.stage
		tc.mu.Unlock()
		_ = tc.sink.Writef("Stage %d -> %d", prev, tc.rec.stage)
	} else {
		tc.mu.Unlock()
	}

	var b strings.Builder
	b.WriteString(hex32(tc.rec.pc))
	b.WriteByte('\t')
	b.WriteString(tc.rec.disasm)
	b.WriteString("\t ")
	for _, by := range tc.rec.bytes {
		b.WriteString(hexByte(by))
		b.WriteByte(' ')
	}
	b.WriteByte('\t')
	for _, o := range tc.rec.origin {
		b.WriteString(decByte(o))
		b.WriteByte(' ')
	}

	if tc.load.set && tc.load.pc == tc.rec.pc {
		writeSideChannel(&b, "<-", tc.load)
	}
	if tc.str.set && tc.str.pc == tc.rec.pc {
		writeSideChannel(&b, "->", tc.str)
	}
	tc.load = loadStoreEvent{}
	tc.str = loadStoreEvent{}

	_ = tc.sink.WriteLine(b.String())

	tc.mu.Lock()
	tc.instructionCount++
	count := tc.instructionCount
	stopCond := tc.stopCondition
	ceiling := tc.maxInstructions
	tc.mu.Unlock()

	if stopCond == "max_instructions" && count >= ceiling {
		tc.mu.Lock()
		tc.phase = PhaseIdle
		tc.mu.Unlock()
		log.L.InstructionCeiling(ceiling)
		tc.ssc.Pause()
	}
}

func writeSideChannel(b *strings.Builder, arrow string, ev loadStoreEvent) {
	b.WriteString("\t ")
	b.WriteString(arrow)
	b.WriteString(" @")
	b.WriteString(hex32(ev.addr))
	b.WriteString(" (")
	b.WriteString(hex32(ev.value))
	b.WriteString(") \t")
	for _, o := range ev.origin {
		b.WriteString(decByte(o))
		b.WriteByte(' ')
	}
}

func hex32(v uint32) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xF]
		v >>= 4
	}
	return "0x" + string(buf[i:])
}

func hexByte(v uint8) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[v>>4], digits[v&0xF]})
}

func decByte(v uint8) string {
	if v == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

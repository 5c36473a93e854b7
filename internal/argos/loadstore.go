package argos

// AddrKind distinguishes how a load/store's effective address was obtained,
// per the data model's LoadEvent/StoreEvent: a TLB hit gives a host-virtual
// pointer directly; a miss falls through the emulator's slow path and the
// address is only meaningful as a guest-physical address.
type AddrKind uint8

const (
	AddrHostVirtual AddrKind = iota
	AddrGuestPhysical
)

// loadStoreEvent is a single pending memory-access annotation: the load and
// store hooks each get one slot, overwritten on every call and consumed (or
// silently discarded) by the next LogInstruction call for the matching pc.
// There is no queue: only the most recent load and the most recent store
// since the last consumption are ever remembered, matching the original
// tracker's single-slot side channel.
type loadStoreEvent struct {
	pc     uint32
	addr   uint32
	value  uint32
	size   uint32
	kind   AddrKind
	origin []uint8
	set    bool
}

// RecordLoad records a memory read performed by the instruction at pc, for
// annotation onto that instruction's trace line. origin may be nil if the
// caller has no per-byte provenance to offer.
func (tc *TrackingContext) RecordLoad(pc, addr, value, size uint32, kind AddrKind, origin []uint8) {
	tc.load = loadStoreEvent{pc: pc, addr: addr, value: value, size: size, kind: kind, origin: origin, set: true}
}

// RecordStore records a memory write performed by the instruction at pc.
func (tc *TrackingContext) RecordStore(pc, addr, value, size uint32, kind AddrKind, origin []uint8) {
	tc.str = loadStoreEvent{pc: pc, addr: addr, value: value, size: size, kind: kind, origin: origin, set: true}
}

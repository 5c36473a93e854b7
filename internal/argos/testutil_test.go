package argos

// fakeMemory is a sparse byte-addressable guest memory for tests: only
// addresses explicitly written are mapped, so "unmapped page" behavior is
// exercised simply by never writing those addresses.
type fakeMemory struct {
	bytes map[uint32]byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{bytes: make(map[uint32]byte)}
}

func (m *fakeMemory) writeU8(addr uint32, v uint8) {
	m.bytes[addr] = v
}

func (m *fakeMemory) writeU16(addr uint32, v uint16) {
	m.writeU8(addr, uint8(v))
	m.writeU8(addr+1, uint8(v>>8))
}

func (m *fakeMemory) writeU32(addr uint32, v uint32) {
	m.writeU8(addr, uint8(v))
	m.writeU8(addr+1, uint8(v>>8))
	m.writeU8(addr+2, uint8(v>>16))
	m.writeU8(addr+3, uint8(v>>24))
}

func (m *fakeMemory) writeBytes(addr uint32, data []byte) {
	for i, b := range data {
		m.writeU8(addr+uint32(i), b)
	}
}

func (m *fakeMemory) Translate(addr uint32, length uint32) ([]byte, bool) {
	out := make([]byte, length)
	for i := uint32(0); i < length; i++ {
		b, ok := m.bytes[addr+i]
		if !ok {
			return nil, false
		}
		out[i] = b
	}
	return out, true
}

type fakeCPU struct {
	eip, eax, cr3 uint32
	fsBase        uint32
}

func (c *fakeCPU) EIP() uint32 { return c.eip }
func (c *fakeCPU) EAX() uint32 { return c.eax }
func (c *fakeCPU) CR3() uint32 { return c.cr3 }
func (c *fakeCPU) SegmentBase(seg Segment) uint32 {
	if seg == SegFS {
		return c.fsBase
	}
	return 0
}

type fakeTaint struct {
	dirty  map[uint32]bool
	origin map[uint32]uint8
}

func newFakeTaint() *fakeTaint {
	return &fakeTaint{dirty: make(map[uint32]bool), origin: make(map[uint32]uint8)}
}

func (t *fakeTaint) taintRange(addr uint32, n int, stage uint8) {
	for i := 0; i < n; i++ {
		t.dirty[addr+uint32(i)] = true
		t.origin[addr+uint32(i)] = stage
	}
}

func (t *fakeTaint) IsDirty(addr uint32) bool    { return t.dirty[addr] }
func (t *fakeTaint) OriginIndex(addr uint32) uint8 { return t.origin[addr] }

type fakeSSC struct {
	singleStep bool
	paused     bool
}

func (s *fakeSSC) SetSingleStep(enabled bool) { s.singleStep = enabled }
func (s *fakeSSC) Pause()                     { s.paused = true }

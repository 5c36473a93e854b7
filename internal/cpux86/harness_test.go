package cpux86

import "testing"

func TestNewHarnessExposesRegisters(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	if got := h.EIP(); got != 0 {
		t.Fatalf("got EIP %#x on a fresh engine, want 0", got)
	}
}

func TestMapAndWriteMemoryRoundTrips(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	const base = 0x400000
	if err := h.MapMemory(base, 0x1000); err != nil {
		t.Fatalf("MapMemory: %v", err)
	}

	code := []byte{0x90, 0x90, 0xF4} // nop; nop; hlt
	if err := h.WriteMemory(base, code); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}

	got, ok := h.Translate(base, uint32(len(code)))
	if !ok {
		t.Fatalf("Translate reported failure on mapped memory")
	}
	for i, b := range code {
		if got[i] != b {
			t.Fatalf("byte %d: got %#x, want %#x", i, got[i], b)
		}
	}
}

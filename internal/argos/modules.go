package argos

import "github.com/cherry-wb/argos/internal/log"

// TEB/PEB/loader field offsets used by EnumerateModules. The walk follows
// the same chain the original tracker walks: FS base (TEB) -> PEB -> Ldr ->
// InLoadOrderModuleList, taking only the forward (Flink) link of each entry.
const (
	offTEBPeb = 0x30
	offPEBLdr = 0x0C

	offLdrInitialized    = 0x04
	offLdrInLoadOrderList = 0x0C

	offEntryBase         = 0x18
	offEntryBaseNameLen  = 0x2C
	offEntryBaseNameBuf  = 0x30
)

// ModuleWalkBound caps the number of loader entries EnumerateModules will
// follow. A real process rarely loads more than a few dozen modules; this
// bound exists purely to guarantee termination against a corrupted or
// deliberately cyclic loader list, in addition to the explicit head
// comparison below.
const ModuleWalkBound = 256

// ModuleList is the set of PE modules discovered by one loader walk. The
// original tracker threads these through a hand-rolled doubly linked list;
// a Go slice gives the same "walk once, query many" access pattern without
// the pointer bookkeeping, so that's what this holds.
type ModuleList struct {
	mods []*Module
}

func (l *ModuleList) Append(m *Module) {
	l.mods = append(l.mods, m)
}

func (l *ModuleList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.mods)
}

// Resolve finds the module containing pc and, within it, the export whose
// address table entry equals pc. It returns (nil, _, false) when no
// enumerated module's [Base, End) range contains pc ("called a non-imported
// function"), and (mod, _, false) when pc falls inside a module but does
// not line up with any of its exported entry points (silently ignored, the
// same way the original tracker leaves such calls unannotated).
func (l *ModuleList) Resolve(pc uint32) (*Module, resolvedExport, bool) {
	if l == nil {
		return nil, resolvedExport{}, false
	}
	for _, m := range l.mods {
		if pc >= m.Base && pc < m.End {
			exp, ok := m.index[pc]
			return m, exp, ok
		}
	}
	return nil, resolvedExport{}, false
}

// EnumerateModules walks the InLoadOrderModuleList of the process whose TEB
// sits at fsBase, parsing each module it finds. The walk stops at bound
// entries or as soon as it loops back to the list head, whichever comes
// first. A translation failure for the PEB, Ldr, or the initialized flag
// yields an empty, valid list: a loader that hasn't finished initializing
// yet is not an error, just nothing to enumerate.
func EnumerateModules(r *GuestReader, fsBase uint32, bound int) *ModuleList {
	list := &ModuleList{}

	peb, ok := r.U32(fsBase + offTEBPeb)
	if !ok {
		log.L.Warn("translation miss reading PEB pointer", log.Ptr("fs_base", uint64(fsBase)))
		return list
	}
	ldr, ok := r.U32(peb + offPEBLdr)
	if !ok {
		log.L.Warn("translation miss reading Ldr pointer", log.Ptr("peb", uint64(peb)))
		return list
	}
	initialized, ok := r.U8(ldr + offLdrInitialized)
	if !ok {
		log.L.Warn("translation miss reading loader Initialized flag", log.Ptr("ldr", uint64(ldr)))
		return list
	}
	if initialized == 0 {
		// Not an error: the loader hasn't built the module list yet.
		log.L.ModulesEnumerated(0, uint64(fsBase))
		return list
	}

	head := ldr + offLdrInLoadOrderList
	cur, ok := r.U32(head)
	if !ok {
		log.L.Warn("translation miss reading InLoadOrderModuleList head", log.Ptr("ldr", uint64(ldr)))
		return list
	}

	if bound <= 0 {
		bound = ModuleWalkBound
	}
	for i := 0; i < bound && cur != 0 && cur != head; i++ {
		base, ok := r.U32(cur + offEntryBase)
		if !ok {
			log.L.Warn("translation miss reading loader entry base", log.Ptr("entry", uint64(cur)))
			break
		}

		mod, ok := ParseModule(r, base)
		if ok {
			// Loader basename wins over the PE-internal name read in pe.go, a
			// deliberate divergence from _get_imported_modules (see DESIGN.md):
			// the two nearly always agree, and the loader's copy is available
			// even when a stripped image's export directory has no name RVA.
			if nameLenBytes, ok := r.U16(cur + offEntryBaseNameLen); ok && nameLenBytes > 0 {
				if nameBufPtr, ok := r.U32(cur + offEntryBaseNameBuf); ok {
					if buf, ok := r.Bytes(nameBufPtr, uint32(nameLenBytes)); ok {
						mod.Name = UTF16ToASCII(buf, int(nameLenBytes)/2)
					}
				}
			}
			list.Append(mod)
		}

		next, ok := r.U32(cur)
		if !ok {
			log.L.Warn("translation miss reading Flink", log.Ptr("entry", uint64(cur)))
			break
		}
		cur = next
	}

	log.L.ModulesEnumerated(list.Len(), uint64(fsBase))
	return list
}

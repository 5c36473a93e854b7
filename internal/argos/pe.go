package argos

import "github.com/cherry-wb/argos/internal/log"

// PE field offsets used by ParseModule. These mirror the fixed layout of the
// DOS/NT/export-directory headers; we do not use the standard library's
// debug/pe package here because the source is tainted guest memory read
// through a Translator, not a real file backed by an io.ReaderAt, and every
// field access must tolerate a missing page rather than erroring out.
const (
	offDOSMagic       = 0x00
	offDOSLfanew      = 0x3C
	peSignature       = 0x00004550
	offNTSizeOfImage  = 0x50
	offNTRvaSizeCount = 0x74
	offNTExportDirRVA = 0x78

	offExportNameRVA       = 0x0C
	offExportOrdinalBase   = 0x10
	offExportNumFunctions  = 0x14
	offExportNumNames      = 0x18
	offExportAddressTable  = 0x1C
	offExportNameTable     = 0x20
	offExportOrdinalTable  = 0x24

	dosMagicMZ = 0x5A4D
)

// resolvedExport is the outcome of following one slot of a module's export
// address table back to either a name or an ordinal.
type resolvedExport struct {
	Name    string
	Ordinal uint32
	HasName bool
}

// Module describes one PE image mapped into the tracked guest address
// space, plus a precomputed address -> export index built once while the
// module is still being enumerated (the Analyzing phase), so that resolving
// a call target during Tracking is a map lookup rather than a fresh O(n)
// walk of the export tables on every call (Design Notes, Open Question c).
type Module struct {
	Base uint32
	End  uint32
	Name string

	NumFunctions      uint32
	NumNamedFunctions uint32
	OrdinalBase       uint32

	index map[uint32]resolvedExport
}

// ParseModule reads the DOS/NT/export headers of the PE image mapped at
// base. It fails (ok=false) only when the image itself is not a valid PE
// (bad DOS magic or bad PE signature) or when the DOS magic, e_lfanew or
// the NT signature cannot be read at all. Once SizeOfImage and the base headers
// are in hand the module is considered valid even if its export directory
// is absent or any field within it is unreadable; in that case the Module
// carries an empty export index, per the design's "do not fail the whole
// parse" rule.
func ParseModule(r *GuestReader, base uint32) (*Module, bool) {
	magic, ok := r.U16(base + offDOSMagic)
	if !ok {
		log.L.Warn("translation miss reading DOS header", log.Ptr("base", uint64(base)))
		return nil, false
	}
	if magic != dosMagicMZ {
		log.L.Warn("malformed PE image: bad DOS magic", log.Ptr("base", uint64(base)))
		return nil, false
	}

	lfanew, ok := r.U32(base + offDOSLfanew)
	if !ok {
		log.L.Warn("translation miss reading e_lfanew", log.Ptr("base", uint64(base)))
		return nil, false
	}
	nt := base + lfanew

	sig, ok := r.U32(nt)
	if !ok {
		log.L.Warn("translation miss reading NT signature", log.Ptr("base", uint64(base)), log.Ptr("nt", uint64(nt)))
		return nil, false
	}
	if sig != peSignature {
		log.L.Warn("malformed PE image: bad NT signature", log.Ptr("base", uint64(base)), log.Ptr("nt", uint64(nt)))
		return nil, false
	}

	sizeOfImage, ok := r.U32(nt + offNTSizeOfImage)
	if !ok {
		sizeOfImage = 0
	}

	mod := &Module{
		Base: base,
		End:  base + sizeOfImage,
	}

	rvaCount, ok := r.U32(nt + offNTRvaSizeCount)
	if !ok || rvaCount == 0 {
		return mod, true
	}

	exportDirRVA, ok := r.U32(nt + offNTExportDirRVA)
	if !ok || exportDirRVA == 0 {
		return mod, true
	}

	if !mod.parseExportDirectory(r, base+exportDirRVA) {
		log.L.Warn("malformed PE export directory, module retained with empty exports",
			log.Ptr("base", uint64(base)), log.Ptr("export_dir", uint64(base+exportDirRVA)))
		mod.NumFunctions = 0
		mod.NumNamedFunctions = 0
		mod.OrdinalBase = 0
		mod.Name = ""
	}
	return mod, true
}

// parseExportDirectory reads the export directory table and, on success,
// builds the address -> export index immediately. Any read failure leaves
// the module with empty exports, reported to the caller via the bool
// result so it can reset partially-populated fields.
func (m *Module) parseExportDirectory(r *GuestReader, dir uint32) bool {
	nameRVA, ok := r.U32(dir + offExportNameRVA)
	if !ok {
		return false
	}
	if nameRVA != 0 {
		name, ok := r.ASCIIZ(m.Base+nameRVA, 256)
		if ok {
			m.Name = name
		}
	}

	ordinalBase, ok := r.U32(dir + offExportOrdinalBase)
	if !ok {
		return false
	}
	numFunctions, ok := r.U32(dir + offExportNumFunctions)
	if !ok {
		return false
	}
	numNames, ok := r.U32(dir + offExportNumNames)
	if !ok {
		return false
	}
	addrTableRVA, ok := r.U32(dir + offExportAddressTable)
	if !ok {
		return false
	}
	nameTableRVA, ok := r.U32(dir + offExportNameTable)
	if !ok {
		return false
	}
	ordinalTableRVA, ok := r.U32(dir + offExportOrdinalTable)
	if !ok {
		return false
	}

	m.OrdinalBase = ordinalBase
	m.NumFunctions = numFunctions
	m.NumNamedFunctions = numNames

	m.index = make(map[uint32]resolvedExport, numFunctions)
	for i := uint32(0); i < numFunctions; i++ {
		entry, ok := r.U32(m.Base + addrTableRVA + 4*i)
		if !ok {
			break
		}
		if entry == 0 {
			continue
		}
		funcAddr := m.Base + entry

		for j := uint32(0); j < numFunctions; j++ {
			ord, ok := r.U16(m.Base + ordinalTableRVA + 2*j)
			if !ok {
				break
			}
			if uint32(ord) != i {
				continue
			}
			if j < numNames {
				nameRVA, ok := r.U32(m.Base + nameTableRVA + 4*j)
				if ok && nameRVA != 0 {
					name, ok := r.ASCIIZ(m.Base+nameRVA, 256)
					if ok {
						m.index[funcAddr] = resolvedExport{Name: name, HasName: true}
						break
					}
				}
				m.index[funcAddr] = resolvedExport{Ordinal: j + ordinalBase}
			} else {
				m.index[funcAddr] = resolvedExport{Ordinal: j + ordinalBase}
			}
			break
		}
	}
	return true
}

package argos

// UTF16ToASCII performs the lossy conversion the tracker uses for loader
// bookkeeping strings (module base names): one output byte per UTF-16LE code
// unit, dropping the high byte. Units whose high byte is non-zero (true
// non-Latin-1 codepoints) become '?'. units is the number of 16-bit code
// units to consume from buf (if buf holds fewer than 2*units bytes, only
// the whole code units it does hold are converted); the
// caller (module enumeration) derives units from the loader's recorded
// name-length field, not from a NUL scan, since module base names in the
// loader's data are length-prefixed rather than NUL-terminated.
func UTF16ToASCII(buf []byte, units int) string {
	if units <= 0 {
		return ""
	}
	if len(buf) < units*2 {
		units = len(buf) / 2
	}
	out := make([]byte, units)
	for i := 0; i < units; i++ {
		lo := buf[i*2]
		hi := buf[i*2+1]
		if hi != 0 {
			out[i] = '?'
			continue
		}
		out[i] = lo
	}
	return string(out)
}

package config

import "bytes"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// normalizeInput strips a UTF-8 BOM and turns CRLF/CR into LF. Trailing
// whitespace is kept.
func normalizeInput(in []byte) []byte {
	in = bytes.TrimPrefix(in, utf8BOM)
	in = bytes.ReplaceAll(in, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(in, []byte("\r"), []byte("\n"))
}

// canonicalize is normalizeInput plus exactly one trailing newline.
func canonicalize(in []byte) []byte {
	out := bytes.TrimRight(normalizeInput(in), "\n \t")
	return append(out, '\n')
}

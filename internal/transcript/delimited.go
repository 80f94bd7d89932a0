package transcript

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// AppendDelimited appends raw to b prefixed with its varint length, the
// framing used for recorded fragment files.
func AppendDelimited(b, raw []byte) []byte {
	return protowire.AppendBytes(b, raw)
}

// SplitDelimited splits a recording made with AppendDelimited into raw
// fragments. The fragments are not decoded.
func SplitDelimited(b []byte) ([][]byte, error) {
	var out [][]byte
	for offset := 0; len(b) > 0; {
		raw, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return out, fmt.Errorf("record at offset %d: %w", offset, protowire.ParseError(n))
		}
		out = append(out, raw)
		b = b[n:]
		offset += n
	}
	return out, nil
}

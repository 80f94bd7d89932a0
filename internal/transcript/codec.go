package transcript

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed transcript fragment")

// Decode parses one protobuf-encoded fragment.
//
// Unknown fields are skipped, and so is a known field carrying an unexpected
// wire type. The version field is never checked. On error the returned
// fragment is nil.
func Decode(b []byte) (*Fragment, error) {
	f := &Fragment{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed("tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num >= fieldVendor && num <= fieldOffTime:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
			f.setScalar(num, v)
		case typ == protowire.BytesType && num == fieldWords:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed("words", protowire.ParseError(n))
			}
			b = b[n:]
			w, err := decodeWord(raw)
			if err != nil {
				return nil, err
			}
			f.Words = append(f.Words, w)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(fmt.Sprintf("unknown field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}

func (f *Fragment) setScalar(num protowire.Number, v uint64) {
	switch num {
	case fieldVendor:
		f.Vendor = int32(v)
	case fieldVersion:
		f.Version = int32(v)
	case fieldSeqnum:
		f.Seqnum = int32(v)
	case fieldUID:
		f.UID = int64(v)
	case fieldFlag:
		f.Flag = int32(v)
	case fieldTime:
		f.Time = int64(v)
	case fieldLang:
		f.Lang = int32(v)
	case fieldStartTime:
		f.StartTime = int32(v)
	case fieldOffTime:
		f.OffTime = int32(v)
	}
}

func decodeWord(b []byte) (Word, error) {
	var w Word
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Word{}, malformed("word tag", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == wordFieldText && typ == protowire.BytesType:
			s, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Word{}, malformed("word text", protowire.ParseError(n))
			}
			if !utf8.Valid(s) {
				return Word{}, malformed("word text", errors.New("invalid UTF-8"))
			}
			b = b[n:]
			w.Text = string(s)
		case (num == wordFieldStartMs || num == wordFieldDurationMs || num == wordFieldIsFinal) && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Word{}, malformed(fmt.Sprintf("word field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case wordFieldStartMs:
				w.StartMs = int32(v)
			case wordFieldDurationMs:
				w.DurationMs = int32(v)
			case wordFieldIsFinal:
				w.IsFinal = protowire.DecodeBool(v)
			}
		case num == wordFieldConfidence && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Word{}, malformed("word confidence", protowire.ParseError(n))
			}
			b = b[n:]
			w.Confidence = math.Float64frombits(v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Word{}, malformed(fmt.Sprintf("unknown word field %d", num), protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return w, nil
}

func malformed(where string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, where, err)
}

// Encode serializes f in the same wire format Decode reads. Zero-valued
// scalars are omitted.
func Encode(f *Fragment) []byte {
	if f == nil {
		return nil
	}
	var b []byte
	b = appendVarint(b, fieldVendor, uint64(int64(f.Vendor)))
	b = appendVarint(b, fieldVersion, uint64(int64(f.Version)))
	b = appendVarint(b, fieldSeqnum, uint64(int64(f.Seqnum)))
	b = appendVarint(b, fieldUID, uint64(f.UID))
	b = appendVarint(b, fieldFlag, uint64(int64(f.Flag)))
	b = appendVarint(b, fieldTime, uint64(f.Time))
	b = appendVarint(b, fieldLang, uint64(int64(f.Lang)))
	b = appendVarint(b, fieldStartTime, uint64(int64(f.StartTime)))
	b = appendVarint(b, fieldOffTime, uint64(int64(f.OffTime)))
	for i := range f.Words {
		b = protowire.AppendTag(b, fieldWords, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeWord(&f.Words[i]))
	}
	return b
}

func encodeWord(w *Word) []byte {
	var b []byte
	if w.Text != "" {
		b = protowire.AppendTag(b, wordFieldText, protowire.BytesType)
		b = protowire.AppendString(b, w.Text)
	}
	b = appendVarint(b, wordFieldStartMs, uint64(int64(w.StartMs)))
	b = appendVarint(b, wordFieldDurationMs, uint64(int64(w.DurationMs)))
	if w.IsFinal {
		b = protowire.AppendTag(b, wordFieldIsFinal, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if w.Confidence != 0 {
		b = protowire.AppendTag(b, wordFieldConfidence, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(w.Confidence))
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// Package transcript defines the transcript fragment pushed by the real-time
// transcription job and its protobuf wire codec.
package transcript

// Field numbers of the Text message.
const (
	fieldVendor    = 1
	fieldVersion   = 2
	fieldSeqnum    = 3
	fieldUID       = 4
	fieldFlag      = 5
	fieldTime      = 6
	fieldLang      = 7
	fieldStartTime = 8
	fieldOffTime   = 9
	fieldWords     = 10
)

// Field numbers of the Word message.
const (
	wordFieldText       = 1
	wordFieldStartMs    = 2
	wordFieldDurationMs = 3
	wordFieldIsFinal    = 4
	wordFieldConfidence = 5
)

// Fragment is one decoded transcription update.
type Fragment struct {
	Vendor    int32
	Version   int32
	Seqnum    int32
	UID       int64 // speaking participant
	Flag      int32
	Time      int64
	Lang      int32
	StartTime int32
	OffTime   int32
	Words     []Word
}

// Word is a recognized token, or the partial sentence recognized so far.
type Word struct {
	Text       string
	StartMs    int32
	DurationMs int32
	IsFinal    bool
	Confidence float64
}

// Sentence returns the first word of the fragment, which carries the
// current sentence so far. Later words are ignored.
func (f *Fragment) Sentence() (Word, bool) {
	if f == nil || len(f.Words) == 0 {
		return Word{}, false
	}
	return f.Words[0], true
}

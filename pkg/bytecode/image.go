package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// ImageMagic starts every image file: "SVMC" (slotvm code).
var ImageMagic = []byte{'S', 'V', 'M', 'C'}

// imageHeaderLen is the magic plus the big-endian version.
const imageHeaderLen = 6

// cborEncMode uses canonical encoding so the same stream always produces
// the same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// imageBody is the CBOR payload of an image.
type imageBody struct {
	Words   []Word            `cbor:"1,keyasint"`
	Strings map[SlotID]string `cbor:"2,keyasint,omitempty"`
	Lines   []SourceLine      `cbor:"3,keyasint,omitempty"`
}

// MarshalImage encodes the stream as an image.
// Streams with pending references cannot be stored.
func (s *Stream) MarshalImage() ([]byte, error) {
	if pending := s.PendingOffsets(); len(pending) > 0 {
		w := s.Words[pending[0]]
		e := Errorf(KindUnresolvedLabel, 0, "cannot store stream with pending reference").At(pending[0])
		e.Label = w.Name
		return nil, e
	}

	body, err := cborEncMode.Marshal(imageBody{
		Words:   s.Words,
		Strings: s.Strings,
		Lines:   s.Lines,
	})
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal image: %w", err)
	}

	buf := make([]byte, 0, imageHeaderLen+len(body))
	buf = append(buf, ImageMagic...)
	buf = binary.BigEndian.AppendUint16(buf, s.Version)
	buf = append(buf, body...)
	return buf, nil
}

// UnmarshalImage decodes an image produced by MarshalImage.
func UnmarshalImage(data []byte) (*Stream, error) {
	if len(data) < imageHeaderLen {
		return nil, fmt.Errorf("image too short: need at least %d bytes, got %d", imageHeaderLen, len(data))
	}
	if !bytes.Equal(data[:4], ImageMagic) {
		return nil, fmt.Errorf("invalid image magic: expected %q, got %q", ImageMagic, data[:4])
	}

	version := binary.BigEndian.Uint16(data[4:6])
	if version > StreamVersion {
		return nil, fmt.Errorf("image version %d is newer than supported version %d", version, StreamVersion)
	}

	var body imageBody
	if err := cbor.Unmarshal(data[imageHeaderLen:], &body); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal image: %w", err)
	}

	s := &Stream{
		Version: version,
		Words:   body.Words,
		Strings: body.Strings,
		Lines:   body.Lines,
	}
	if s.Strings == nil {
		s.Strings = make(map[SlotID]string)
	}
	if err := s.checkImageWords(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkImageWords applies the operand checks of FromInts to decoded words.
func (s *Stream) checkImageWords() *Error {
	for i, w := range s.Words {
		switch w.Kind {
		case WordOp:
		case WordDigit:
			if w.Value < 0 || w.Value > MaxDigit {
				return Errorf(KindProgramMalformed, 0, "digit out of range: %d", w.Value).At(i)
			}
		case WordSlot, WordText:
			if IsReserved(w.Value) {
				return Errorf(KindReservedID, w.Slot(), "operand in reserved range").At(i)
			}
			if _, ok := s.Strings[w.Slot()]; w.Kind == WordText && !ok {
				return Errorf(KindUnknownID, w.Slot(), "no string table entry").At(i)
			}
		default:
			return Errorf(KindProgramMalformed, 0, "%s word in image", w.Kind).At(i)
		}
	}
	return nil
}

// WriteImageFile stores the stream as an image file.
func (s *Stream) WriteImageFile(path string) error {
	data, err := s.MarshalImage()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}

// ReadImageFile loads a stream from an image file.
func ReadImageFile(path string) (*Stream, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	s, err := UnmarshalImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// IsImage reports whether data starts with the image magic.
func IsImage(data []byte) bool {
	return len(data) >= len(ImageMagic) && bytes.Equal(data[:len(ImageMagic)], ImageMagic)
}

package tokenkey

import "fmt"

// MaxFieldID is the largest field id that fits below the variant bit.
const MaxFieldID uint8 = 0x7f

const stemmedBit uint8 = 0x80

// Tag packs a field id (bits 0-6) and the word/stemmed variant (bit 7) into
// one byte.
type Tag uint8

// Word returns the tag of an exact word occurrence in field.
// Field ids above MaxFieldID are not checked; see ValidField.
func Word(field uint8) Tag {
	return Tag(field)
}

// Stemmed returns the tag of a stemmed occurrence in field.
func Stemmed(field uint8) Tag {
	return Tag(stemmedBit | field)
}

// ValidField reports whether field can be packed into a Tag without
// colliding with the variant bit.
func ValidField(field uint8) bool {
	return field <= MaxFieldID
}

func (t Tag) Field() uint8 {
	return uint8(t) &^ stemmedBit
}

func (t Tag) IsStemmed() bool {
	return uint8(t)&stemmedBit != 0
}

func (t Tag) String() string {
	if t.IsStemmed() {
		return fmt.Sprintf("stemmed(%d)", t.Field())
	}
	return fmt.Sprintf("word(%d)", t.Field())
}

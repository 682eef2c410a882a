package rowcodec

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/pingcap-incubator/tinysi/kv/util/codec"
	"github.com/pingcap/errors"
)

// KeyType names a row key layout.
type KeyType int

const (
	Bare KeyType = iota
	FixedPrefix
	FixedPostfix
	UniquePostfix
	FixedPrefixAndPostfix
	FixedPrefixUniquePostfix
	PrefixOnly
	PrefixFixedPostfixOnly
	PrefixUniquePostfixOnly
	Salted
)

var keyTypeNames = map[KeyType]string{
	Bare:                     "bare",
	FixedPrefix:              "fixed-prefix",
	FixedPostfix:             "fixed-postfix",
	UniquePostfix:            "unique-postfix",
	FixedPrefixAndPostfix:    "fixed-prefix-and-postfix",
	FixedPrefixUniquePostfix: "fixed-prefix-unique-postfix",
	PrefixOnly:               "prefix-only",
	PrefixFixedPostfixOnly:   "prefix-fixed-postfix-only",
	PrefixUniquePostfixOnly:  "prefix-unique-postfix-only",
	Salted:                   "salted",
}

func (t KeyType) String() string {
	if s, ok := keyTypeNames[t]; ok {
		return s
	}
	return "unknown"
}

// KeySpec holds what a key strategy needs beyond the row itself.
type KeySpec struct {
	// Prefix is written as the first field by the prefix strategies.
	Prefix []byte
	// Postfix is appended by the postfix strategies.
	Postfix []byte
	// Columns are the row positions of the key columns, in key order.
	Columns []int
	// Desc marks descending key columns, indexed like Columns. Nil means all ascending.
	Desc []bool
}

func (s *KeySpec) desc(i int) bool {
	return s.Desc != nil && s.Desc[i]
}

// KeyStrategy builds row keys out of rows and reads key columns back.
type KeyStrategy interface {
	Type() KeyType
	// Encode appends the key fields of row to enc.
	Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec)
	// Decode fills the key columns of row, whose kinds are given by kinds, from dec.
	Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error
	// FieldCount is the number of key fields for the given key columns.
	FieldCount(columns []int) int
}

// NewKeyStrategy returns the strategy of type t.
func NewKeyStrategy(t KeyType) (KeyStrategy, error) {
	switch t {
	case Bare:
		return bareKey{}, nil
	case FixedPrefix:
		return fixedPrefixKey{}, nil
	case FixedPostfix:
		return fixedPostfixKey{}, nil
	case UniquePostfix:
		return uniquePostfixKey{}, nil
	case FixedPrefixAndPostfix:
		return fixedPrefixAndPostfixKey{}, nil
	case FixedPrefixUniquePostfix:
		return fixedPrefixUniquePostfixKey{}, nil
	case PrefixOnly:
		return prefixOnlyKey{}, nil
	case PrefixFixedPostfixOnly:
		return prefixFixedPostfixOnlyKey{}, nil
	case PrefixUniquePostfixOnly:
		return prefixUniquePostfixOnlyKey{}, nil
	case Salted:
		return saltedKey{}, nil
	}
	return nil, errors.Errorf("unknown key type %d", t)
}

// EncodeRowKey builds the full row key of row.
func EncodeRowKey(s KeyStrategy, row []Datum, spec *KeySpec) []byte {
	enc := codec.NewMultiFieldEncoder(64)
	s.Encode(enc, row, spec)
	return enc.Build()
}

// DecodeRowKey fills the key columns of row from key.
func DecodeRowKey(s KeyStrategy, key []byte, row []Datum, kinds []Kind, spec *KeySpec) error {
	return s.Decode(codec.NewMultiFieldDecoder(key), row, kinds, spec)
}

func uniqueKey() []byte {
	id := uuid.New()
	return id[:]
}

type bareKey struct{}

func (bareKey) Type() KeyType { return Bare }

func (bareKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	for i, pos := range spec.Columns {
		// null and missing columns still take a field
		if pos >= len(row) || row[pos].IsNull() {
			enc.SetRawBytes(nil)
			continue
		}
		EncodeKeyField(enc, row[pos], spec.desc(i))
	}
}

func (bareKey) Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error {
	for i, pos := range spec.Columns {
		d, err := DecodeKeyField(dec, kinds[pos], spec.desc(i))
		if err != nil {
			return errors.Annotatef(err, "key column %d", pos)
		}
		row[pos] = d
	}
	return nil
}

func (bareKey) FieldCount(columns []int) int {
	return len(columns)
}

type fixedPrefixKey struct{}

func (fixedPrefixKey) Type() KeyType { return FixedPrefix }

func (fixedPrefixKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	enc.EncodeNextBytes(spec.Prefix, false)
	bareKey{}.Encode(enc, row, spec)
}

func (fixedPrefixKey) Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error {
	if err := dec.Skip(); err != nil {
		return errors.Trace(err)
	}
	return bareKey{}.Decode(dec, row, kinds, spec)
}

func (fixedPrefixKey) FieldCount(columns []int) int {
	return bareKey{}.FieldCount(columns) + 1
}

type fixedPostfixKey struct{}

func (fixedPostfixKey) Type() KeyType { return FixedPostfix }

func (fixedPostfixKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	bareKey{}.Encode(enc, row, spec)
	enc.EncodeNextBytes(spec.Postfix, false)
}

func (fixedPostfixKey) Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error {
	return bareKey{}.Decode(dec, row, kinds, spec)
}

func (fixedPostfixKey) FieldCount(columns []int) int {
	return bareKey{}.FieldCount(columns) + 1
}

type uniquePostfixKey struct{}

func (uniquePostfixKey) Type() KeyType { return UniquePostfix }

func (uniquePostfixKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	bareKey{}.Encode(enc, row, spec)
	enc.EncodeNextBytes(spec.Postfix, false)
	enc.EncodeNextBytes(uniqueKey(), false)
}

func (uniquePostfixKey) Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error {
	return bareKey{}.Decode(dec, row, kinds, spec)
}

func (uniquePostfixKey) FieldCount(columns []int) int {
	return bareKey{}.FieldCount(columns) + 2
}

type fixedPrefixAndPostfixKey struct{}

func (fixedPrefixAndPostfixKey) Type() KeyType { return FixedPrefixAndPostfix }

func (fixedPrefixAndPostfixKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	enc.EncodeNextBytes(spec.Prefix, false)
	fixedPostfixKey{}.Encode(enc, row, spec)
}

func (fixedPrefixAndPostfixKey) Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error {
	return fixedPrefixKey{}.Decode(dec, row, kinds, spec)
}

func (fixedPrefixAndPostfixKey) FieldCount(columns []int) int {
	return fixedPostfixKey{}.FieldCount(columns) + 1
}

type fixedPrefixUniquePostfixKey struct{}

func (fixedPrefixUniquePostfixKey) Type() KeyType { return FixedPrefixUniquePostfix }

func (fixedPrefixUniquePostfixKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	enc.EncodeNextBytes(spec.Prefix, false)
	uniquePostfixKey{}.Encode(enc, row, spec)
}

func (fixedPrefixUniquePostfixKey) Decode(dec *codec.MultiFieldDecoder, row []Datum, kinds []Kind, spec *KeySpec) error {
	return fixedPrefixKey{}.Decode(dec, row, kinds, spec)
}

func (fixedPrefixUniquePostfixKey) FieldCount(columns []int) int {
	return uniquePostfixKey{}.FieldCount(columns) + 1
}

type prefixOnlyKey struct{}

func (prefixOnlyKey) Type() KeyType { return PrefixOnly }

func (prefixOnlyKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	enc.EncodeNextBytes(spec.Prefix, false)
}

// Decode is a no-op, no columns are present in the key.
func (prefixOnlyKey) Decode(*codec.MultiFieldDecoder, []Datum, []Kind, *KeySpec) error { return nil }

func (prefixOnlyKey) FieldCount([]int) int { return 1 }

type prefixFixedPostfixOnlyKey struct{}

func (prefixFixedPostfixOnlyKey) Type() KeyType { return PrefixFixedPostfixOnly }

func (prefixFixedPostfixOnlyKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	enc.EncodeNextBytes(spec.Prefix, false)
	enc.EncodeNextBytes(spec.Postfix, false)
}

func (prefixFixedPostfixOnlyKey) Decode(*codec.MultiFieldDecoder, []Datum, []Kind, *KeySpec) error {
	return nil
}

func (prefixFixedPostfixOnlyKey) FieldCount([]int) int { return 2 }

type prefixUniquePostfixOnlyKey struct{}

func (prefixUniquePostfixOnlyKey) Type() KeyType { return PrefixUniquePostfixOnly }

func (prefixUniquePostfixOnlyKey) Encode(enc *codec.MultiFieldEncoder, row []Datum, spec *KeySpec) {
	enc.EncodeNextBytes(spec.Prefix, false)
	enc.EncodeNextBytes(spec.Postfix, false)
	enc.EncodeNextBytes(uniqueKey(), false)
}

func (prefixUniquePostfixOnlyKey) Decode(*codec.MultiFieldDecoder, []Datum, []Kind, *KeySpec) error {
	return nil
}

func (prefixUniquePostfixOnlyKey) FieldCount([]int) int { return 3 }

// saltedKey ignores the row: a random salt spreads writes over the key space and a uuid keeps keys unique.
type saltedKey struct{}

func (saltedKey) Type() KeyType { return Salted }

func (saltedKey) Encode(enc *codec.MultiFieldEncoder, _ []Datum, _ *KeySpec) {
	enc.EncodeNextInt64(int64(rand.Int31()), false)
	enc.EncodeNextBytes(uniqueKey(), false)
}

func (saltedKey) Decode(*codec.MultiFieldDecoder, []Datum, []Kind, *KeySpec) error { return nil }

func (saltedKey) FieldCount([]int) int { return 2 }

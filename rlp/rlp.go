// Package rlp implements the Ethereum Recursive Length Prefix encoding,
// the wire codec spec.md §4.2 requires for BlockHeader and the external
// transaction envelope. It is the teacher's own package (every turbo-geth
// domain type is RLP-encoded); kept and rebuilt here because the
// retrieval pack did not include the teacher's rlp sources, only call
// sites (core/state, eth/stagedsync) that import it.
package rlp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"

	"github.com/holiman/uint256"
)

var (
	ErrExpectedString = errors.New("rlp: expected String or Byte")
	ErrExpectedList    = errors.New("rlp: expected List")
	ErrCanonInt        = errors.New("rlp: non-canonical integer format")
	ErrCanonSize       = errors.New("rlp: non-canonical size information")
	ErrElemTooLarge    = errors.New("rlp: element is larger than containing list")
	ErrValueTooLarge   = errors.New("rlp: value size exceeds available input length")
	ErrMoreThanOneValue = errors.New("rlp: input contains more than one value")
)

// RawValue represents an already RLP-encoded value, passed through verbatim.
type RawValue []byte

// ----- Encoding -----------------------------------------------------------

// EncodeToBytes returns the RLP encoding of val.
func EncodeToBytes(val interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, val); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes the RLP encoding of val to w.
func Encode(w io.Writer, val interface{}) error {
	b, err := encode(reflect.ValueOf(val))
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func encode(v reflect.Value) ([]byte, error) {
	if !v.IsValid() {
		return []byte{0x80}, nil
	}
	if raw, ok := v.Interface().(RawValue); ok {
		if len(raw) == 0 {
			return []byte{0x80}, nil
		}
		return raw, nil
	}
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			elemKind := v.Type().Elem().Kind()
			isByteSeq := (elemKind == reflect.Array || elemKind == reflect.Slice) && v.Type().Elem().Elem().Kind() == reflect.Uint8
			if elemKind == reflect.Struct || ((elemKind == reflect.Slice || elemKind == reflect.Array) && !isByteSeq) {
				return []byte{0xc0}, nil
			}
			return []byte{0x80}, nil
		}
		if bi, ok := v.Interface().(*big.Int); ok {
			return encodeBigInt(bi), nil
		}
		if u, ok := v.Interface().(*uint256.Int); ok {
			return encodeUint256(u), nil
		}
		return encode(v.Elem())
	case reflect.Struct:
		return encodeStruct(v)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return encodeBytes(toBytes(v)), nil
		}
		return encodeList(v)
	case reflect.String:
		return encodeBytes([]byte(v.String())), nil
	case reflect.Bool:
		if v.Bool() {
			return []byte{0x01}, nil
		}
		return []byte{0x80}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return encodeUint(v.Uint()), nil
	case reflect.Interface:
		return encode(v.Elem())
	default:
		if bi, ok := v.Interface().(big.Int); ok {
			return encodeBigInt(&bi), nil
		}
		if u, ok := v.Interface().(uint256.Int); ok {
			return encodeUint256(&u), nil
		}
		return nil, fmt.Errorf("rlp: unsupported kind %s", v.Kind())
	}
}

func toBytes(v reflect.Value) []byte {
	if v.Kind() == reflect.Slice {
		return v.Bytes()
	}
	b := make([]byte, v.Len())
	reflect.Copy(reflect.ValueOf(b), v)
	return b
}

func encodeUint(i uint64) []byte {
	if i == 0 {
		return []byte{0x80}
	}
	if i < 0x80 {
		return []byte{byte(i)}
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], i)
	start := 0
	for start < 8 && b[start] == 0 {
		start++
	}
	return encodeBytes(b[start:])
}

func encodeBigInt(bi *big.Int) []byte {
	if bi.Sign() == 0 {
		return []byte{0x80}
	}
	return encodeBytes(bi.Bytes())
}

func encodeUint256(u *uint256.Int) []byte {
	if u.IsZero() {
		return []byte{0x80}
	}
	b := u.Bytes()
	return encodeBytes(b)
}

func encodeBytes(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	return append(encodeLength(len(b), 0x80), b...)
}

func encodeList(v reflect.Value) ([]byte, error) {
	var body []byte
	for i := 0; i < v.Len(); i++ {
		enc, err := encode(v.Index(i))
		if err != nil {
			return nil, err
		}
		body = append(body, enc...)
	}
	return append(encodeLength(len(body), 0xc0), body...), nil
}

func encodeStruct(v reflect.Value) ([]byte, error) {
	t := v.Type()
	var body []byte
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" { // unexported
			continue
		}
		tag := f.Tag.Get("rlp")
		if tag == "-" {
			continue
		}
		fv := v.Field(i)
		if tag == "optional" && isZeroValue(fv) && isTailOptional(v, i) {
			continue
		}
		enc, err := encode(fv)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		body = append(body, enc...)
	}
	return append(encodeLength(len(body), 0xc0), body...), nil
}

// isTailOptional lets a zero "optional" field be omitted only when every
// encoded field after it is also zero, so decoding stays aligned; this is
// the teacher's RLP convention for optional tail fields (Header's BaseFee
// and WithdrawalsHash).
func isTailOptional(v reflect.Value, idx int) bool {
	t := v.Type()
	for j := idx + 1; j < t.NumField(); j++ {
		f := t.Field(j)
		if f.PkgPath != "" || f.Tag.Get("rlp") == "-" {
			continue
		}
		if !isZeroValue(v.Field(j)) {
			return false
		}
	}
	return true
}

func isZeroValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map:
		return v.IsNil() || v.Len() == 0
	default:
		return v.IsZero()
	}
}

func encodeLength(l int, offset byte) []byte {
	if l < 56 {
		return []byte{offset + byte(l)}
	}
	lenBytes := big.NewInt(int64(l)).Bytes()
	return append([]byte{offset + 55 + byte(len(lenBytes))}, lenBytes...)
}

// ----- Decoding ------------------------------------------------------------

// DecodeBytes parses RLP-encoded data from b into val, which must be a
// non-nil pointer. It returns an error if b does not contain exactly one
// value.
func DecodeBytes(b []byte, val interface{}) error {
	s := NewStream(bytes.NewReader(b), uint64(len(b)))
	if err := s.Decode(val); err != nil {
		return err
	}
	if _, err := s.r.ReadByte(); err != io.EOF {
		return ErrMoreThanOneValue
	}
	return nil
}

// Stream reads successive RLP values from an input source.
type Stream struct {
	r    *bytes.Reader
	size uint64
}

func NewStream(r io.Reader, inputLimit uint64) *Stream {
	buf, _ := io.ReadAll(r)
	return &Stream{r: bytes.NewReader(buf), size: inputLimit}
}

// Decode reads the next RLP value and stores it in val.
func (s *Stream) Decode(val interface{}) error {
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return errors.New("rlp: Decode requires a non-nil pointer")
	}
	kind, size, err := s.readKind()
	if err != nil {
		return err
	}
	return s.decodeValue(rv.Elem(), kind, size)
}

type rkind int

const (
	kByte rkind = iota
	kString
	kList
)

func (s *Stream) readKind() (rkind, uint64, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	switch {
	case b < 0x80:
		if err := s.r.UnreadByte(); err != nil {
			return 0, 0, err
		}
		return kByte, 1, nil
	case b < 0xB8:
		return kString, uint64(b - 0x80), nil
	case b < 0xC0:
		sizeLen := int(b - 0xB7)
		size, err := s.readSize(sizeLen)
		return kString, size, err
	case b < 0xF8:
		return kList, uint64(b - 0xC0), nil
	default:
		sizeLen := int(b - 0xF7)
		size, err := s.readSize(sizeLen)
		return kList, size, err
	}
}

func (s *Stream) readSize(n int) (uint64, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return 0, err
	}
	if buf[0] == 0 {
		return 0, ErrCanonSize
	}
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func (s *Stream) decodeValue(v reflect.Value, kind rkind, size uint64) error {
	switch v.Kind() {
	case reflect.Ptr:
		elemKind := v.Type().Elem().Kind()
		if elemKind == reflect.Array && v.Type().Elem().Elem().Kind() == reflect.Uint8 && kind == kString && size == 0 {
			// an empty RLP string decoded into a *[N]byte (e.g. Transaction.To)
			// means "absent", not "present but zero" — leave the pointer nil.
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		if bi, ok := v.Interface().(*big.Int); ok {
			b, err := s.readBytesOfKind(kind, size)
			if err != nil {
				return err
			}
			bi.SetBytes(b)
			return nil
		}
		if u, ok := v.Interface().(*uint256.Int); ok {
			b, err := s.readBytesOfKind(kind, size)
			if err != nil {
				return err
			}
			u.SetBytes(b)
			return nil
		}
		return s.decodeValue(v.Elem(), kind, size)
	case reflect.Struct:
		if kind != kList {
			return ErrExpectedList
		}
		return s.decodeStruct(v, size)
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b, err := s.readBytesOfKind(kind, size)
			if err != nil {
				return err
			}
			return setBytes(v, b)
		}
		if kind != kList {
			return ErrExpectedList
		}
		return s.decodeSliceList(v, size)
	case reflect.String:
		b, err := s.readBytesOfKind(kind, size)
		if err != nil {
			return err
		}
		v.SetString(string(b))
		return nil
	case reflect.Bool:
		b, err := s.readBytesOfKind(kind, size)
		if err != nil {
			return err
		}
		v.SetBool(len(b) == 1 && b[0] == 1)
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b, err := s.readBytesOfKind(kind, size)
		if err != nil {
			return err
		}
		var u uint64
		for _, bb := range b {
			u = u<<8 | uint64(bb)
		}
		v.SetUint(u)
		return nil
	case reflect.Interface:
		if kind == kList {
			raw, err := s.readRaw(kind, size)
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(RawValue(raw)))
			return nil
		}
		b, err := s.readBytesOfKind(kind, size)
		if err != nil {
			return err
		}
		v.Set(reflect.ValueOf(b))
		return nil
	default:
		return fmt.Errorf("rlp: unsupported decode kind %s", v.Kind())
	}
}

func setBytes(v reflect.Value, b []byte) error {
	if v.Kind() == reflect.Slice {
		v.SetBytes(b)
		return nil
	}
	if v.Len() < len(b) {
		return ErrValueTooLarge
	}
	reflect.Copy(v, reflect.ValueOf(b))
	return nil
}

func (s *Stream) readBytesOfKind(kind rkind, size uint64) ([]byte, error) {
	if kind == kByte {
		b, err := s.r.ReadByte()
		return []byte{b}, err
	}
	if kind == kList {
		return nil, ErrExpectedString
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Stream) readRaw(kind rkind, size uint64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Stream) decodeStruct(v reflect.Value, size uint64) error {
	sub := io.LimitReader(s.r, int64(size))
	ns := &Stream{r: bytes.NewReader(mustReadAll(sub))}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := f.Tag.Get("rlp")
		if tag == "-" {
			continue
		}
		if ns.atEOF() {
			if tag == "optional" {
				continue
			}
			return io.ErrUnexpectedEOF
		}
		kind, sz, err := ns.readKind()
		if err != nil {
			return err
		}
		if err := ns.decodeValue(v.Field(i), kind, sz); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func (s *Stream) atEOF() bool {
	b, err := s.r.ReadByte()
	if err != nil {
		return true
	}
	_ = s.r.UnreadByte()
	_ = b
	return false
}

func (s *Stream) decodeSliceList(v reflect.Value, size uint64) error {
	sub := io.LimitReader(s.r, int64(size))
	ns := &Stream{r: bytes.NewReader(mustReadAll(sub))}
	elems := reflect.MakeSlice(v.Type(), 0, 0)
	for !ns.atEOF() {
		kind, sz, err := ns.readKind()
		if err != nil {
			return err
		}
		elemPtr := reflect.New(v.Type().Elem())
		if err := ns.decodeValue(elemPtr.Elem(), kind, sz); err != nil {
			return err
		}
		elems = reflect.Append(elems, elemPtr.Elem())
	}
	v.Set(elems)
	return nil
}

func mustReadAll(r io.Reader) []byte {
	b, _ := io.ReadAll(r)
	return b
}

// ListSize returns the length of an RLP list header for contentSize bytes
// of encoded content. The trie package does not use it; it sizes its own
// list headers with generateStructLen.
func ListSize(contentSize uint64) uint64 {
	return uint64(len(encodeLength(int(contentSize), 0xc0)))
}

// IntSize returns the length of the canonical big-endian encoding of i
// with leading zero bytes stripped (the "zeroless" form of §6.1).
func IntSize(i uint64) int {
	if i == 0 {
		return 0
	}
	n := 0
	for ; i > 0; i >>= 8 {
		n++
	}
	return n
}

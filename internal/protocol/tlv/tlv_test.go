package tlv

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/devsession/internal/testutil/testlog"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	testlog.Start(t)
	in := []Field{
		String(1, "dev://A"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}},
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestStringListEncoding(t *testing.T) {
	testlog.Start(t)
	in := []string{"10.0.0.7:5060", "", "[fe80::1]:5060"}
	got, err := Strings(3, in).AsStrings()
	if err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("unexpected list length: %d", len(got))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("item %d: got=%q want=%q", i, got[i], in[i])
		}
	}

	empty, err := Strings(3, nil).AsStrings()
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty list: got=%v err=%v", empty, err)
	}
}

func TestStringListRejectsTruncatedItem(t *testing.T) {
	testlog.Start(t)
	f := Field{ID: 3, Type: TypeStrings, Value: []byte{0, 1, 0, 5, 'a'}}
	if _, err := f.AsStrings(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestAccessorsCheckType(t *testing.T) {
	testlog.Start(t)
	if _, err := String(1, "x").AsU32(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
	v, err := U32(2, 1002).AsU32()
	if err != nil || v != 1002 {
		t.Fatalf("u32 accessor: v=%d err=%v", v, err)
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	testlog.Start(t)
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

package protocol

import (
	"reflect"
	"testing"
)

func TestSelectiveRepeatPayload(t *testing.T) {
	tests := []struct {
		name    string
		missing []int
		wire    []byte
		decoded []int
	}{
		{"single", []int{4}, []byte{4}, []int{4}},
		{"several", []int{0, 2, 7}, []byte{0, 2, 7}, []int{0, 2, 7}},
		{"out of range dropped", []int{-1, 3, 300}, []byte{3}, []int{3}},
		{"none", nil, []byte{}, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := EncodeSelectiveRepeat(tt.missing)
			if !reflect.DeepEqual(wire, tt.wire) {
				t.Errorf("EncodeSelectiveRepeat() = %v, want %v", wire, tt.wire)
			}
			if got := DecodeSelectiveRepeat(wire); !reflect.DeepEqual(got, tt.decoded) {
				t.Errorf("DecodeSelectiveRepeat() = %v, want %v", got, tt.decoded)
			}
		})
	}
}

func TestDecodeSelectiveRepeatDedup(t *testing.T) {
	got := DecodeSelectiveRepeat([]byte{5, 1, 5, 1, 9})
	want := []int{5, 1, 9}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeSelectiveRepeat() = %v, want %v", got, want)
	}
}

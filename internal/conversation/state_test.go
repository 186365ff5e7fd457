package conversation

import "testing"

func TestStateRoundTrip(t *testing.T) {
	states := []State{
		{Base: Normal},
		{Base: Hello},
		{Base: SchoolNameRequest},
		{Base: BannerURLRequest},
		{Base: Normal, ResetPending: true},
		{Base: BannerURLRequest, ResetPending: true},
	}
	for _, s := range states {
		got, err := DecodeState(s.Encode())
		if err != nil {
			t.Errorf("DecodeState(%d): %v", s.Encode(), err)
			continue
		}
		if got != s {
			t.Errorf("round trip of %+v gave %+v", s, got)
		}
	}
}

func TestEncodeKeepsBaseUnderResetFlag(t *testing.T) {
	s := State{Base: SchoolNameRequest, ResetPending: true}
	if s.Encode() != int(SchoolNameRequest)|resetFlag {
		t.Errorf("Encode = %d", s.Encode())
	}
}

func TestDecodeStateRejectsUnknownValues(t *testing.T) {
	for _, v := range []int{8, 9, 12, -1, 100} {
		if _, err := DecodeState(v); err == nil {
			t.Errorf("DecodeState(%d) should fail", v)
		}
	}
}

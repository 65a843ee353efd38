package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func stamped(ts int64, extra ...byte) []byte {
	b := binary.LittleEndian.AppendUint32(nil, uint32(ts))
	return append(b, extra...)
}

func TestTimestamp(t *testing.T) {
	p := New(KindDataPoint, stamped(1652800330, 1, 2, 3))
	ts, err := p.Timestamp()
	if err != nil {
		t.Fatal(err)
	}
	if ts != 1652800330 {
		t.Fatalf("Timestamp() = %d", ts)
	}
}

func TestTimestamp_Past2038(t *testing.T) {
	p := New(KindDataPoint, stamped(3000000000))
	ts, err := p.Timestamp()
	if err != nil {
		t.Fatal(err)
	}
	if ts != 3000000000 {
		t.Fatalf("Timestamp() = %d, want 3000000000", ts)
	}
}

func TestTimestamp_TooShort(t *testing.T) {
	_, err := New(KindDataPoint, []byte{1, 2}).Timestamp()
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}

func TestNew_CopiesPayload(t *testing.T) {
	raw := stamped(1700000000, 9)
	p := New(KindDataPoint, raw)
	raw[4] = 0
	if !bytes.Equal(p.Bytes(), stamped(1700000000, 9)) {
		t.Fatal("packet shares memory with caller")
	}
	out := p.Bytes()
	out[4] = 0
	if p.Bytes()[4] != 9 {
		t.Fatal("Bytes() exposes internal buffer")
	}
}

func TestValidate(t *testing.T) {
	if err := New(KindDataPoint, make([]byte, 121)).Validate(120); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if err := New(KindDataPoint, make([]byte, 3)).Validate(120); !errors.Is(err, ErrTooShort) {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	if err := New(KindDataPoint, make([]byte, 120)).Validate(120); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name    string
		want    int64
		wantErr bool
	}{
		{"1652800330.pkt", 1652800330, false},
		{"1.pkt", 1, false},
		{"1652800330.dp.pkt", 0, true},
		{"1652800330.txt", 0, true},
		{"1652800330", 0, true},
		{"abc.pkt", 0, true},
		{"-5.pkt", 0, true},
		{"0.pkt", 0, true},
		{".pkt", 0, true},
		{".pkt-123.tmp", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFilename(tt.name, DefaultExtension)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidFilename) {
				t.Errorf("ParseFilename(%q) err = %v, want ErrInvalidFilename", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFilename(%q) = %d, %v; want %d", tt.name, got, err, tt.want)
		}
	}
}

func TestFilenameRoundTrip(t *testing.T) {
	for _, ts := range []int64{1, 1600000001, 1652800330} {
		got, err := ParseFilename(Filename(ts, "pkt"), "pkt")
		if err != nil || got != ts {
			t.Errorf("round trip of %d gave %d, %v", ts, got, err)
		}
	}
}

func TestParseBucketName(t *testing.T) {
	if ts, err := ParseBucketName("1652800000"); err != nil || ts != 1652800000 {
		t.Fatalf("ParseBucketName = %d, %v", ts, err)
	}
	for _, bad := range []string{"", "lost+found", "12.5", "-3"} {
		if _, err := ParseBucketName(bad); err == nil {
			t.Errorf("ParseBucketName(%q) accepted", bad)
		}
	}
}

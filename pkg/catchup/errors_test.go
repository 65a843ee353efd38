package catchup

import (
	"errors"
	"strings"
	"testing"
)

func TestRemoteError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"not_found", ErrNotFound},
		{"bad_request", ErrRejected},
		{"not_ready", ErrUnavailable},
		{"tier_inactive", ErrUnavailable},
		{"internal", ErrRemote},
		{"", ErrRemote},
	}
	for _, tt := range tests {
		err := remoteError(tt.code, "reading flash packet 5: file does not exist")
		if !errors.Is(err, tt.want) {
			t.Errorf("code %q: got %v, want %v", tt.code, err, tt.want)
		}
		if !strings.Contains(err.Error(), "flash packet 5") {
			t.Errorf("code %q: store message lost: %v", tt.code, err)
		}
	}
	if err := remoteError("not_found", ""); err != ErrNotFound {
		t.Errorf("expected bare ErrNotFound, got %v", err)
	}
}

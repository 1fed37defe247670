package limits

import (
	"strings"
	"testing"
)

// TestMaxFramePayloadCoversChunk verifies that a maximum-size chunk plus
// protocol overhead always fits in a frame payload.
func TestMaxFramePayloadCoversChunk(t *testing.T) {
	worst := MaxChunkSize + MACOverhead + 64 // chunk header + largest tag
	if MaxFramePayload < worst {
		t.Errorf("MaxFramePayload = %d, need at least %d", MaxFramePayload, worst)
	}
}

func TestValidateChunk(t *testing.T) {
	tests := []struct {
		name    string
		chunk   []byte
		wantErr error
	}{
		{"empty chunk", nil, ErrPayloadEmpty},
		{"single byte", []byte{0x01}, nil},
		{"maximum size", make([]byte, MaxChunkSize), nil},
		{"over maximum", make([]byte, MaxChunkSize+1), ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.chunk)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateChunk() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr.Error()) {
				t.Errorf("ValidateChunk() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateFramePayload(t *testing.T) {
	if err := ValidateFramePayload(nil); err != nil {
		t.Errorf("empty frame payload should be valid, got %v", err)
	}
	if err := ValidateFramePayload(make([]byte, MaxFramePayload)); err != nil {
		t.Errorf("maximum frame payload should be valid, got %v", err)
	}
	if err := ValidateFramePayload(make([]byte, MaxFramePayload+1)); err == nil {
		t.Error("oversize frame payload should be rejected")
	}
}

func TestValidateFileName(t *testing.T) {
	if err := ValidateFileName(""); err == nil {
		t.Error("empty file name should be rejected")
	}
	if err := ValidateFileName(strings.Repeat("a", MaxFileNameLength)); err != nil {
		t.Errorf("maximum-length file name should be valid, got %v", err)
	}
	if err := ValidateFileName(strings.Repeat("a", MaxFileNameLength+1)); err == nil {
		t.Error("over-length file name should be rejected")
	}
}

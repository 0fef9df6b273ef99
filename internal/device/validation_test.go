package device

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		device  Device
		wantErr error
	}{
		{"valid", Device{ID: testID, Name: "TV", Class: ClassChromecast}, nil},
		{"uppercase hex id", Device{ID: strings.ToUpper(testID), Name: "TV", Class: ClassCastEnabled}, nil},
		{"short id", Device{ID: "abc", Name: "TV", Class: ClassChromecast}, ErrInvalidID},
		{"dashed id", Device{ID: "01234567-89ab-cdef-0123-456789abcd", Name: "TV", Class: ClassChromecast}, ErrInvalidID},
		{"empty name", Device{ID: testID, Name: "  ", Class: ClassChromecast}, ErrInvalidName},
		{"long name", Device{ID: testID, Name: strings.Repeat("a", 101), Class: ClassChromecast}, ErrInvalidName},
		{"unknown class", Device{ID: testID, Name: "TV", Class: "toaster"}, ErrInvalidClass},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDevice(&tt.device)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

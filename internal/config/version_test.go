package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version int
		wantErr bool
		substr  string
	}{
		{CurrentVersion, false, ""},
		{0, true, "unsupported"},
		{-1, true, "unsupported"},
		{CurrentVersion + 1, true, "newer than this build"},
	}
	for _, tt := range tests {
		err := ValidateVersion(tt.version)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ValidateVersion(%d) error = %v, wantErr %v", tt.version, err, tt.wantErr)
		}
		if err == nil {
			continue
		}
		var ve *VersionError
		if !errors.As(err, &ve) {
			t.Fatalf("expected *VersionError, got %T", err)
		}
		if !strings.Contains(err.Error(), tt.substr) {
			t.Fatalf("error %q does not contain %q", err, tt.substr)
		}
	}
}

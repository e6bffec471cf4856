// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"testing"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code    ExitCode
		valid   bool
		failure ExitCode
	}{
		{0, true, 1},
		{1, true, 1},
		{42, true, 42},
		{255, true, 255},
		{256, false, 255},
		{1000, false, 255},
		{-1, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()

			ok, errs := tt.code.IsValid()
			if ok != tt.valid {
				t.Errorf("IsValid() = %v, want %v", ok, tt.valid)
			}
			if !ok && !errors.Is(errs[0], ErrInvalidExitCode) {
				t.Errorf("IsValid() error = %v, want ErrInvalidExitCode", errs[0])
			}
			if got := tt.code.Failure(); got != tt.failure {
				t.Errorf("Failure() = %d, want %d", got, tt.failure)
			}
		})
	}

	if !ExitCode(0).IsSuccess() || ExitCode(3).IsSuccess() {
		t.Error("IsSuccess() mismatch")
	}
}

package db

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm/logger"
)

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level string
		env   string
		want  logger.LogLevel
	}{
		{level: "debug", env: "production", want: logger.Info},
		{level: "", env: "production", want: logger.Warn},
		{level: "WARN", env: "production", want: logger.Warn},
		{level: "error", env: "local", want: logger.Error},
		{level: "silent", env: "local", want: logger.Silent},
		{level: "verbose", env: "local", want: logger.Warn},
		{level: "verbose", env: "production", want: logger.Error},
	}
	for _, tc := range tests {
		if got := resolveGormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}

func TestIsNoRowsUnwraps(t *testing.T) {
	t.Parallel()

	if !IsNoRows(fmt.Errorf("load event: %w", ErrNoRows)) {
		t.Fatalf("expected wrapped ErrNoRows to match")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("unexpected match for unrelated error")
	}
}

func TestOptionalString(t *testing.T) {
	t.Parallel()

	if optionalString("") != nil {
		t.Fatalf("empty string should map to NULL")
	}
	if got := optionalString("Free"); got == nil || *got != "Free" {
		t.Fatalf("optionalString(Free) = %v", got)
	}
}

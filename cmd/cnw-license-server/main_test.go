package main

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/CloudNativeWorks/cnw-license-server/internal/config"
)

func TestExitCode(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	if got := exitCode(logger, nil); got != 0 {
		t.Errorf("expected exit code 0, got %d", got)
	}
	if logs.Len() != 0 {
		t.Errorf("expected nothing logged on clean stop, got %v", logs.All())
	}

	if got := exitCode(logger, errors.New("listen tcp :8080: address already in use")); got != 1 {
		t.Errorf("expected exit code 1, got %d", got)
	}
	entries := logs.FilterMessage("license server stopped").All()
	if len(entries) != 1 {
		t.Fatalf("expected one stop entry, got %v", logs.All())
	}
	if entries[0].Level != zapcore.ErrorLevel {
		t.Errorf("expected error level, got %s", entries[0].Level)
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level enabled")
	}
	if _, err := newLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

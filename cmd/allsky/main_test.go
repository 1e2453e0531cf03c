package main

import (
	"testing"

	"github.com/KevinKickass/OpenSkyCam/internal/config"
)

func TestNewLogger(t *testing.T) {
	if _, err := newLogger(config.LoggingConfig{Level: "debug", Development: true}); err != nil {
		t.Errorf("debug: %v", err)
	}
	if _, err := newLogger(config.LoggingConfig{Level: "WARN"}); err != nil {
		t.Errorf("WARN: %v", err)
	}
	if _, err := newLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("invalid level accepted")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"scheduler", "capture", "check-communications", "get-version", "set-baudrate", "shutter", "heater", "hash-password"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %s not registered", name)
		}
	}
}

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestInitDebugLowersGlobalLevel(t *testing.T) {
	Init(true, true)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", zerolog.GlobalLevel())
	}
}

func TestInitDefaultIsInfoLevel(t *testing.T) {
	Init(false, true)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %s", zerolog.GlobalLevel())
	}
}

func TestComponentTagsSubsystem(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	logger := Component("store")
	logger.Info().Msg("hello")
	if !strings.Contains(buf.String(), "store") {
		t.Fatalf("expected the component tag in the log line, got %q", buf.String())
	}
}

func TestSetOutputRedirectsLogger(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	logger := Component("engine")
	logger.Info().Msg("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Fatalf("expected the message to land in the redirected output, got %q", buf.String())
	}
}

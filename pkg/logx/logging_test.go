package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceApplySwapsLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := NewWithWriter(Config{Level: "info", Console: true, JSON: true}, &buf)
	defer svc.Close()

	log = log.With(String("comp", "test"))
	log.Debug("hidden")
	assert.Empty(t, buf.String())

	log.Info("booking scheduled", String("date", "2025-04-10"), Err(errors.New("boom")))
	out := buf.String()
	assert.Contains(t, out, `"comp":"test"`)
	assert.Contains(t, out, `"date":"2025-04-10"`)
	assert.Contains(t, out, `"err":"boom"`)
	assert.Contains(t, out, `"caller":"logging_test.go:`)

	// Derived loggers follow the live config.
	buf.Reset()
	svc.Apply(Config{Level: "debug", Console: true, JSON: true})
	log.Debug("now visible")
	assert.True(t, strings.Contains(buf.String(), "now visible"))
	assert.True(t, log.Enabled(LevelDebug))
}

func TestNopAndZero(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("dropped")

	n := Nop()
	assert.False(t, n.IsZero())
	n.Error("dropped", Int("n", 1))
}

func TestValidLevel(t *testing.T) {
	assert.True(t, ValidLevel(""))
	assert.True(t, ValidLevel("warning"))
	assert.False(t, ValidLevel("loud"))
}

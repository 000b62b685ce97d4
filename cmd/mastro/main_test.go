package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keepGlobalLogger(t *testing.T) {
	logger, level := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	})
}

func TestInitLogger_RepeatedCallsKeepOneCallerField(t *testing.T) {
	keepGlobalLogger(t)

	var buf bytes.Buffer
	config := &logConfig{WithCaller: true, Level: "info", LogFormat: "json"}
	require.NoError(t, initLoggerTo(config, &buf))
	require.NoError(t, initLoggerTo(config, &buf))

	log.Info().Msg("hello")

	line := strings.TrimSpace(buf.String())
	assert.Equal(t, 1, strings.Count(line, `"caller":`), line)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &fields))
	assert.Equal(t, "hello", fields["message"])
	assert.Contains(t, fields, "time")
}

func TestInitLogger_FileOnlyKeepsOutputClean(t *testing.T) {
	keepGlobalLogger(t)

	var buf bytes.Buffer
	require.NoError(t, initLoggerTo(&logConfig{Level: "debug", LogFormat: "json", FileOnly: true}, &buf))
	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

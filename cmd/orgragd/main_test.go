package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orgrag/internal/config"
)

func TestRun_RejectsConfigOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	err := run(context.Background(), filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(config.LoggingConfig{Level: "loud"})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

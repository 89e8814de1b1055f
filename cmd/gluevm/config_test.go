package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patsak/gluevm"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "glue.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultConfig(), cfg)

	cfg, err = loadConfig(writeConfig(t, `
logLevel:       "debug"
logFile:        "/tmp/glue.log"
maxDepth:       64
strictUpvalues: true
trace:          true
prelude:        false
`))
	require.NoError(t, err)
	assert.Equal(t, Config{
		LogLevel:       "debug",
		LogFile:        "/tmp/glue.log",
		MaxDepth:       64,
		StrictUpvalues: true,
		Trace:          true,
		Prelude:        false,
	}, cfg)

	cfg, err = loadConfig(writeConfig(t, `maxDepth: 10`))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxDepth)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Prelude)
}

func TestLoadConfigErrors(t *testing.T) {
	for name, content := range map[string]string{
		"unknownField": `depth: 10`,
		"badLevel":     `logLevel: "loud"`,
		"negative":     `maxDepth: -1`,
		"wrongType":    `trace: "yes"`,
		"syntax":       `maxDepth: `,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}

	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	cfg := defaultConfig()
	cfg.LogLevel = "debug"
	cfg.LogFile = filepath.Join(t.TempDir(), "glue.log")

	stderr := bytes.Buffer{}
	logger, closeLog, err := newLogger(cfg, &stderr)
	require.NoError(t, err)

	vm := gluevm.NewVM(cfg.options(logger)...)
	prog, err := gluevm.Assemble("(do (loadint r0 1))")
	require.NoError(t, err)
	_, err = vm.Load(context.Background(), prog)
	require.NoError(t, err)
	require.NoError(t, closeLog())

	assert.Contains(t, stderr.String(), "run form")
	content, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"run form"`)

	_, _, err = newLogger(Config{LogLevel: "loud"}, &stderr)
	assert.Error(t, err)
}

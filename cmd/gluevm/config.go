package main

import (
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joomcode/errorx"
	slogmulti "github.com/samber/slog-multi"

	"github.com/patsak/gluevm"
)

const configSchema = `
logLevel?:       "debug" | "info" | "warn" | "error"
logFile?:        string
maxDepth?:       int & >=0
strictUpvalues?: bool
trace?:          bool
prelude?:        bool
`

type Config struct {
	LogLevel       string `json:"logLevel"`
	LogFile        string `json:"logFile"`
	MaxDepth       int    `json:"maxDepth"`
	StrictUpvalues bool   `json:"strictUpvalues"`
	Trace          bool   `json:"trace"`
	Prelude        bool   `json:"prelude"`
}

func defaultConfig() Config {
	return Config{
		LogLevel: "warn",
		MaxDepth: 200000,
		Prelude:  true,
	}
}

// loadConfig decodes a CUE file over the defaults. Fields the file does not
// set keep their default values.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, errorx.Decorate(err, "read config")
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString("close({" + configSchema + "})")
	if err := schema.Err(); err != nil {
		return cfg, errorx.Decorate(err, "compile config schema")
	}
	value := ctx.CompileBytes(content, cue.Filename(path))
	if err := value.Err(); err != nil {
		return cfg, errorx.Decorate(err, "parse config %s", path)
	}
	value = schema.Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return cfg, errorx.Decorate(err, "invalid config %s", path)
	}
	if err := value.Decode(&cfg); err != nil {
		return cfg, errorx.Decorate(err, "decode config %s", path)
	}
	return cfg, nil
}

func (c Config) options(logger *slog.Logger) []gluevm.Option {
	return []gluevm.Option{
		gluevm.WithLogger(logger),
		gluevm.WithMaxDepth(c.MaxDepth),
		gluevm.WithStrictUpvalues(c.StrictUpvalues),
		gluevm.WithTrace(c.Trace),
	}
}

// newLogger writes text records to stderr and, when a log file is
// configured, JSON records to that file as well.
func newLogger(c Config, stderr io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, nil, errorx.Decorate(err, "log level")
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
	}
	closeFn := func() error { return nil }
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, errorx.Decorate(err, "open log file")
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		closeFn = f.Close
	}

	return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
}

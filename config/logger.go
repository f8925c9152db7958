package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// NewLogger builds the process logger. Output goes to w, or to a rotating
// file when LogFile is set. The returned closer releases the file.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	var closer io.Closer = nopCloser{}
	if c.LogFile != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogMaxSize, // MB
			MaxBackups: c.LogMaxBackups,
			MaxAge:     c.LogMaxAge, // days
			Compress:   c.LogCompress,
		}
		w, closer = fileWriter, fileWriter
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if c.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closer, nil
}

// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/boorupan/internal/config"
	"github.com/ppiankov/boorupan/internal/privacy"
)

// New builds a logger writing to w with the configured level and format.
// Bearer tokens, credential query parameters and any configured redact
// patterns are masked in every message and string field.
func New(w io.Writer, logCfg config.LogConfig, redact config.RedactConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(logCfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var inner logrus.Formatter
	switch logCfg.Format {
	case "json":
		inner = &logrus.JSONFormatter{}
	case "", "text":
		inner = &logrus.TextFormatter{DisableColors: true, FullTimestamp: true}
	default:
		return nil, fmt.Errorf("log format: unknown format %q", logCfg.Format)
	}

	var patterns []*regexp.Regexp
	if redact.Enabled {
		patterns, err = privacy.Compile(redact.Patterns)
		if err != nil {
			return nil, err
		}
	}

	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	log.SetFormatter(&RedactingFormatter{Inner: inner, Patterns: patterns})
	return log, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// RedactingFormatter scrubs an entry before handing it to Inner.
type RedactingFormatter struct {
	Inner    logrus.Formatter
	Patterns []*regexp.Regexp
}

func (f *RedactingFormatter) Format(e *logrus.Entry) ([]byte, error) {
	scrubbed := e.Dup()
	scrubbed.Level = e.Level
	scrubbed.Caller = e.Caller
	scrubbed.Message = f.scrub(e.Message)
	for k, v := range scrubbed.Data {
		switch val := v.(type) {
		case string:
			scrubbed.Data[k] = f.scrub(val)
		case error:
			scrubbed.Data[k] = f.scrub(val.Error())
		}
	}
	return f.Inner.Format(scrubbed)
}

func (f *RedactingFormatter) scrub(s string) string {
	s = privacy.RedactURLs(s)
	s = privacy.RedactToken(s)
	return privacy.Apply(s, f.Patterns)
}

package elog

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// IsJSON is set when log output is machine-readable, so nothing should draw
// progress bars or colours into it.
var IsJSON bool

// CLI is the command-line View. It doubles as the logrus formatter so that
// log lines from libraries share its style.
type CLI struct {
	IsDebug    bool
	IsVerbose  bool
	DisableTTY bool

	lock     sync.Mutex
	progress *mpb.Progress
	bars     int
}

var (
	colorDebug = color.New(color.FgHiBlack)
	colorWarn  = color.New(color.FgYellow)
	colorError = color.New(color.FgRed)
)

func init() {
	logrus.SetOutput(colorable.NewColorableStderr())
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		color.NoColor = true
	}
}

// Format implements logrus.Formatter.
func (log *CLI) Format(entry *logrus.Entry) ([]byte, error) {

	msg := strings.TrimSuffix(entry.Message, "\n")

	var prefix string
	var c *color.Color
	switch entry.Level {
	case logrus.TraceLevel, logrus.DebugLevel:
		c = colorDebug
	case logrus.WarnLevel:
		c = colorWarn
		prefix = "warning: "
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		c = colorError
		prefix = "error: "
	}

	buf := new(bytes.Buffer)
	if c != nil && !log.DisableTTY {
		buf.WriteString(c.Sprint(prefix + msg))
	} else {
		buf.WriteString(prefix + msg)
	}

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k, v := range entry.Data {
			keys = append(keys, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(keys)
		buf.WriteString(" ")
		buf.WriteString(strings.Join(keys, " "))
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (log *CLI) IsLogLevelEnabled(level LogLevel) bool {
	switch level {
	case DebugLevel:
		return log.IsDebug
	case InfoLevel:
		return log.IsVerbose || log.IsDebug
	default:
		return true
	}
}

func (log *CLI) Debugf(format string, args ...interface{}) {
	if log.IsDebug {
		logrus.Debugf(format, args...)
	}
}

func (log *CLI) Infof(format string, args ...interface{}) {
	if log.IsVerbose || log.IsDebug {
		logrus.Infof(format, args...)
	}
}

// Printf is always displayed, regardless of verbosity.
func (log *CLI) Printf(format string, args ...interface{}) {
	logrus.Printf(format, args...)
}

func (log *CLI) Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

func (log *CLI) Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}

// NewProgress adds a bar to the shared progress display. When output is not
// an interactive terminal the returned Progress only counts.
func (log *CLI) NewProgress(label string, units string, total int64) Progress {

	if log.DisableTTY || IsJSON || !isatty.IsTerminal(os.Stderr.Fd()) {
		return nopProgress{}
	}

	log.lock.Lock()
	defer log.lock.Unlock()

	if log.progress == nil {
		log.progress = mpb.New(mpb.WithOutput(os.Stderr))
	}

	counter := decor.CountersNoUnit("%d / %d")
	if units == "KiB" {
		counter = decor.CountersKibiByte("% .2f / % .2f")
	}

	bar := log.progress.AddBar(total,
		mpb.PrependDecorators(decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight})),
		mpb.AppendDecorators(counter, decor.Name(" "), decor.Percentage()),
	)
	log.bars++

	return &cliProgress{log: log, bar: bar}
}

func (log *CLI) release() {
	log.lock.Lock()
	defer log.lock.Unlock()

	log.bars--
	if log.bars == 0 && log.progress != nil {
		log.progress.Wait()
		log.progress = nil
	}
}

type cliProgress struct {
	log  *CLI
	bar  *mpb.Bar
	once sync.Once
}

func (p *cliProgress) Increment(n int64) {
	p.bar.IncrInt64(n)
}

func (p *cliProgress) ProxyReader(r io.Reader) io.ReadCloser {
	return p.bar.ProxyReader(r)
}

func (p *cliProgress) Finish(success bool) {
	p.once.Do(func() {
		if success {
			p.bar.SetTotal(p.bar.Current(), true)
		} else {
			p.bar.Abort(false)
		}
		p.log.release()
	})
}

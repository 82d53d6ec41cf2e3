/*
Package trace provides the observability surface of the runtime: a
structured logger, the software status register with panic and trace
codes, the circular DMA trace buffer and runtime telemetry counters.
*/
package trace

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

var debug bool

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("ADSP_DEBUG"))
	if err != nil {
		debug = false
	}
}

// Logger is the interface components log through.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
	Warn(...interface{})
	Error(...interface{})
	WithField(string, interface{}) *logrus.Entry
	WithFields(logrus.Fields) *logrus.Entry
}

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// WithComponent annotates a logger with component identity fields.
func WithComponent(l Logger, typ string, id uint32) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"comp": typ,
		"id":   id,
	})
}

// WithPipeline annotates a logger with pipeline identity fields.
func WithPipeline(l Logger, id uint32, core int) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"pipe": id,
		"core": core,
	})
}

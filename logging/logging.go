// Package logging provides the structured logger shared by every component
// of the pipeline core. It wires github.com/sirupsen/logrus with a split
// output writer so error-level records land on stderr while everything else
// goes to stdout, which containerized and scripted environments rely on to
// separate alerting from general log processing.
package logging

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// outputSplitter routes formatted log lines to stderr or stdout based on
// level, without parsing the line itself.
type outputSplitter struct{}

func (outputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Base is the root logger every component derives a scoped Entry from.
var Base = logrus.New()

func init() {
	Base.SetOutput(outputSplitter{})
}

// New returns a logger scoped to a component name (e.g. "flow", "store",
// "pool"), the same convention the teacher's service loggers use for
// "component" fields.
func New(component string) *logrus.Entry {
	return Base.WithField("component", component)
}

// SetLevel adjusts the base logger's verbosity; callers embedding this
// module in a CLI or service typically call this once at startup.
func SetLevel(level logrus.Level) {
	Base.SetLevel(level)
}

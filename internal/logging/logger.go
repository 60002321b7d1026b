package logging

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger so tests can mute or capture it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// FileConfig describes an optional rotating log file
type FileConfig struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"maxSize" toml:"max_log_size"` // megabytes
	MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`   // days
}

// Apply redirects the standard logger into a rotating file. With no file
// configured, messages keep going to stderr and Apply returns nil.
func (c *FileConfig) Apply() *lumberjack.Logger {
	if c == nil || c.Logfile == "" {
		return nil
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	return l
}

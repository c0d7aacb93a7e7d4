// Package log is the bridge's logging facade. Components take a Logger and
// tag it with their name through WithField(ComponentField, ...).
package log

// Logger is implemented by the logrus backend and the no-op test logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})

	// WithField returns a Logger that appends key=value to every line.
	WithField(key string, value interface{}) Logger
}

// logging.go - Structured logging integration for the jobtree module.
//
// Logging is integrated via the logiface facade so callers can plug in any
// backend (stumpy, zerolog adapters, etc.) through WithLogger. The package
// never logs unless a logger was configured; the hot paths pay a single nil
// check.

package jobtree

// logCritical reports err at critical level against the configured logger.
// Returns false when no logger is configured, so callers can fall back to
// another reporting mechanism.
func (j *Job) logCritical(msg string, err error) bool {
	if j.logger == nil {
		return false
	}
	j.logger.Crit().
		Err(err).
		Str("job", j.nameString()).
		Str("state", j.stateString()).
		Log(msg)
	return true
}

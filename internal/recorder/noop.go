package recorder

// Noop discards every invocation. Used when no database path is configured.
type Noop struct{}

func (Noop) Record(Invocation) {}
func (Noop) Close() error      { return nil }

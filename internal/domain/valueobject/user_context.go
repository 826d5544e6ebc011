package valueobject

// Preferences carries per-user rendering hints.
type Preferences struct {
	Verbose bool
	Terse   bool
}

// Verbosity returns the preference as a prompt slot value.
func (p Preferences) Verbosity() string {
	switch {
	case p.Terse:
		return "terse"
	case p.Verbose:
		return "verbose"
	}
	return "normal"
}

// UserContext is caller-supplied metadata attached to a request.
// The zero value is a valid anonymous context.
type UserContext struct {
	UserID        string
	Preferences   Preferences
	HasAttachment bool
}

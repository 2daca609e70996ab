package signin

import "fmt"

// A Disposition is the result of a sign-in operation, telling the
// application what to do next. It is a closed set: the only implementations
// are Redirect, Verified, Notify and Error.
type Disposition interface {
	disposition()
}

// Redirect instructs the application to send the user's browser to URL,
// usually the identity provider's authorization page or back to the login
// form.
type Redirect struct {
	URL string
}

// Verified reports that the user proved control of Identity. Profile holds
// any extra information the provider returned about them, and may be nil.
type Verified struct {
	Identity string
	Profile  map[string]any
}

// Notify instructs the application to tell the user to check for an
// out-of-band message, such as an email. Args holds values for the
// application's notification template.
type Notify struct {
	Message string
	Args    map[string]any
}

// Error reports that the sign-in attempt failed. Message is suitable for
// showing to the user.
type Error struct {
	Message string
}

func (Redirect) disposition() {}
func (Verified) disposition() {}
func (Notify) disposition()   {}
func (Error) disposition()    {}

// Errorf formats a failed disposition in the manner of fmt.Sprintf.
func Errorf(format string, args ...any) Error {
	return Error{Message: fmt.Sprintf(format, args...)}
}

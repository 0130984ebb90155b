package stdx

// Must0 panics if the provided error is not nil. It is intended for startup
// paths where an error leaves nothing sensible to do but terminate.
func Must0(err error) {
	if err != nil {
		panic(err)
	}
}

// Must1 returns v when err is nil and panics otherwise. It simplifies
// handling of constructors that cannot reasonably fail at the call site.
func Must1[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

package web

import "context"

type contextKey string

// SubjectKey holds the authenticated token subject in the request context.
const SubjectKey = contextKey("subject")

// WithSubject adds the authenticated subject to the context.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// Subject retrieves the authenticated subject from the context.
// Returns the subject and a boolean indicating whether it was found.
func Subject(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(SubjectKey).(string)
	return s, ok && s != ""
}

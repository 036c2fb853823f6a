package testutil

import (
	"net/http"

	"github.com/google/uuid"

	id "certifier/pkg/domain"
	"certifier/pkg/requestcontext"
)

// NewCaller returns a caller with a fresh user id.
func NewCaller(name, email string, role id.Role) requestcontext.Caller {
	return requestcontext.Caller{
		UserID: id.UserID(uuid.New()),
		Name:   name,
		Email:  email,
		Role:   role,
	}
}

// WithCaller stores caller in the request context the way auth.RequireAuth
// does, for handlers mounted without the auth middleware.
func WithCaller(req *http.Request, caller requestcontext.Caller) *http.Request {
	return req.WithContext(requestcontext.WithIdentity(req.Context(), caller))
}

package service

import "errors"

var (
	// ErrConfiguration means a required collaborator or setting is missing;
	// nothing was attempted.
	ErrConfiguration = errors.New("configuration error")
	// ErrObjectNotFound means the raw object (at the referenced version) no
	// longer exists.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied means the object store refused the request.
	ErrAccessDenied = errors.New("access denied")
)

// ErrInvalidRequest marks a replay or quality request with bad parameters.
var ErrInvalidRequest = errors.New("invalid request")

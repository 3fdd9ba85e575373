package store

import "errors"

var (
	// ErrNotFound is returned by every Find when no row matches.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateName is returned by HubStore.Create when the name is taken.
	ErrDuplicateName = errors.New("store: hub name already taken")

	// ErrDuplicateChannel is returned when a channel already has a connection.
	ErrDuplicateChannel = errors.New("store: channel already connected")

	// ErrActiveBanExists is returned by BanStore.Create when the subject
	// already carries an ACTIVE ban.
	ErrActiveBanExists = errors.New("store: subject already has an active ban")

	// ErrNotRevokable is returned by BanStore.Revoke for any non-ACTIVE ban.
	ErrNotRevokable = errors.New("store: ban is not revokable")
)

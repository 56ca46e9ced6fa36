package node

import "errors"

var (
	// ErrNodeNotFound is returned when a node has never been heard.
	ErrNodeNotFound = errors.New("node: not found")

	// ErrRegistryClosed is returned by Start after Close.
	ErrRegistryClosed = errors.New("node: registry closed")
)

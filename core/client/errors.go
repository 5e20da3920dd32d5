package client

import (
	"errors"
)

var (
	ErrDNS             = errors.New("failed to resolve server name")
	ErrTimeout         = errors.New("no reply within timeout")
	ErrBadReplySize    = errors.New("unexpected reply size")
	ErrUnsynchronized  = errors.New("server not synchronized")
	ErrUnexpectedReply = errors.New("unexpected reply type or structure")

	errWrite = errors.New("failed to write packet")
)

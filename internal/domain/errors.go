package domain

import "errors"

var (
	ErrRoomFull            = errors.New("room is full")
	ErrUnknownTarget       = errors.New("unknown signaling target")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrBackboneUnavailable = errors.New("backbone unavailable")
)

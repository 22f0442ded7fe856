package ws

import "errors"

var (
	// ErrSessionShutdown is the close cause when the server stops a session.
	ErrSessionShutdown = errors.New("websocket session shutdown")
	// ErrPeerGone is the close cause when the client stops answering or reading.
	ErrPeerGone = errors.New("websocket peer gone")
)

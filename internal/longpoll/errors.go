package longpoll

import "errors"

var (
	ErrInitialization    = errors.New("longpoll: session initialization failed")
	ErrAlreadyRegistered = errors.New("longpoll: bot already registered")
	ErrNotRegistered     = errors.New("longpoll: bot not registered")
	ErrAllAlreadyRunning = errors.New("longpoll: all bots already running")
	ErrAllAlreadyStopped = errors.New("longpoll: all bots already stopped")
	ErrApplicationClosed = errors.New("longpoll: application closed")
	ErrTokenRequired     = errors.New("longpoll: bot token required")
	ErrConsumerRequired  = errors.New("longpoll: consumer required")
	ErrTransportRequired = errors.New("longpoll: transport required")
	ErrReentrant         = errors.New("longpoll: session restarted or awaited from its own consumer")
)

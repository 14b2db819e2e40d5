package botapi

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTransport         = errors.New("botapi: transport failure")
	ErrEncode            = errors.New("botapi: encode failure")
	ErrDecode            = errors.New("botapi: decode failure")
	ErrRejected          = errors.New("botapi: request rejected")
	ErrWebhookNotDeleted = errors.New("botapi: webhook not deleted")
	ErrInvalidEndpoint   = errors.New("botapi: invalid endpoint")
	ErrInvalidRequest    = errors.New("botapi: invalid request")
)

// RejectionError is a remote refusal: non-2xx status or an ok=false envelope.
type RejectionError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *RejectionError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("botapi: %s rejected code=%d description=%q retry_after=%s",
			e.Method, e.Code, e.Description, e.RetryAfter)
	}
	return fmt.Sprintf("botapi: %s rejected code=%d description=%q", e.Method, e.Code, e.Description)
}

func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

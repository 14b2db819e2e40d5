package botapi

import (
	"context"
	"fmt"
	"net/http"
)

// Client runs typed calls over a Transport and a Codec against one endpoint.
type Client struct {
	transport Transport
	codec     Codec
	endpoint  Endpoint
}

func NewClient(transport Transport, codec Codec, endpoint Endpoint) *Client {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Client{
		transport: transport,
		codec:     codec,
		endpoint:  endpoint.WithDefaults(),
	}
}

func (c *Client) Endpoint() Endpoint {
	return c.endpoint
}

func (c *Client) Transport() Transport {
	return c.transport
}

// Call executes one method and returns the raw result field of a successful envelope.
func (c *Client) Call(ctx context.Context, token string, m Method) ([]byte, error) {
	payload, err := c.codec.Encode(m)
	if err != nil {
		return nil, err
	}
	resp, err := c.transport.Execute(ctx, Request{
		Endpoint: c.endpoint,
		Token:    token,
		Method:   m.MethodName(),
		Body:     payload,
	})
	if err != nil {
		return nil, err
	}

	env, decodeErr := c.codec.DecodeResponse(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rej := &RejectionError{
			Method:      m.MethodName(),
			Code:        resp.StatusCode,
			Description: http.StatusText(resp.StatusCode),
		}
		if decodeErr == nil {
			if env.Description != "" {
				rej.Description = env.Description
			}
			rej.RetryAfter = env.RetryAfter
		}
		return nil, rej
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%s: %w", m.MethodName(), decodeErr)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return nil, &RejectionError{
			Method:      m.MethodName(),
			Code:        code,
			Description: env.Description,
			RetryAfter:  env.RetryAfter,
		}
	}
	return env.Result, nil
}

func (c *Client) GetUpdates(ctx context.Context, token string, req GetUpdates) ([]Update, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	result, err := c.Call(ctx, token, req)
	if err != nil {
		return nil, err
	}
	return c.codec.DecodeUpdates(result)
}

// DeleteWebhook fails with ErrWebhookNotDeleted when the server answers result=false.
func (c *Client) DeleteWebhook(ctx context.Context, token string, req DeleteWebhook) error {
	result, err := c.Call(ctx, token, req)
	if err != nil {
		return err
	}
	ok, err := c.codec.DecodeBool(result)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWebhookNotDeleted
	}
	return nil
}

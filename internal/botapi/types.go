package botapi

import (
	"encoding/json"
	"fmt"
)

const (
	MethodGetUpdates    = "getUpdates"
	MethodDeleteWebhook = "deleteWebhook"

	MaxUpdatesLimit = 100
)

// Method is one bot API call payload.
type Method interface {
	MethodName() string
}

// GetUpdates asks for updates with update_id >= Offset.
type GetUpdates struct {
	Offset         int64    `json:"offset,omitempty"`
	Limit          int      `json:"limit,omitempty"`
	Timeout        int      `json:"timeout,omitempty"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

func (GetUpdates) MethodName() string { return MethodGetUpdates }

func (g GetUpdates) Validate() error {
	if g.Limit < 0 || g.Limit > MaxUpdatesLimit {
		return fmt.Errorf("%w: limit %d outside 0..%d", ErrInvalidRequest, g.Limit, MaxUpdatesLimit)
	}
	if g.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout %d", ErrInvalidRequest, g.Timeout)
	}
	return nil
}

// DeleteWebhook clears a push subscription so polling is not shadowed by it.
type DeleteWebhook struct {
	DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
}

func (DeleteWebhook) MethodName() string { return MethodDeleteWebhook }

// Update is one event from getUpdates. Raw keeps the full payload so
// consumers can read fields this package does not model.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	EditedMessage *Message       `json:"edited_message,omitempty"`
	ChannelPost   *Message       `json:"channel_post,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (u *Update) UnmarshalJSON(b []byte) error {
	type plain Update
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*u = Update(p)
	u.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// ChatMessage returns the message that carries chat context, if any.
func (u Update) ChatMessage() *Message {
	switch {
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil:
		return u.CallbackQuery.Message
	}
	return nil
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date,omitempty"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	UserName string `json:"username,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	UserName  string `json:"username,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

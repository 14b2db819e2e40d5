package main

import (
	"context"
	"testing"

	"github.com/danmuck/longpoll/internal/botapi"
	"github.com/danmuck/longpoll/internal/chatsession"
	"github.com/danmuck/longpoll/internal/testutil/testlog"
)

func TestLogUpdateCountsChatMessages(t *testing.T) {
	testlog.Start(t)

	chats := chatsession.NewManager(chatsession.DefaultTTL)
	consumer := chatsession.Consumer(chats, logUpdate("echo"))
	msg := &botapi.Message{MessageID: 1, Chat: botapi.Chat{ID: 5}, Text: "hi"}

	for id := int64(1); id <= 3; id++ {
		if err := consumer.Consume(context.Background(), botapi.Update{UpdateID: id, Message: msg}); err != nil {
			t.Fatalf("consume %d: %v", id, err)
		}
	}
	if err := consumer.Consume(context.Background(), botapi.Update{UpdateID: 4}); err != nil {
		t.Fatalf("consume without chat: %v", err)
	}

	chat, ok := chats.Get(5)
	if !ok {
		t.Fatalf("chat session missing")
	}
	if v, _ := chat.Get("messages"); v.(int) != 3 {
		t.Fatalf("messages=%v want 3", v)
	}
}

func TestBotConsumersKeepChatStateApart(t *testing.T) {
	testlog.Start(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	alpha, alphaChats := botConsumer(ctx, "alpha")
	beta, betaChats := botConsumer(ctx, "beta")
	msg := &botapi.Message{MessageID: 1, Chat: botapi.Chat{ID: 42}, Text: "hi"}

	for id := int64(1); id <= 2; id++ {
		if err := alpha.Consume(ctx, botapi.Update{UpdateID: id, Message: msg}); err != nil {
			t.Fatalf("alpha consume %d: %v", id, err)
		}
	}
	if err := beta.Consume(ctx, botapi.Update{UpdateID: 1, Message: msg}); err != nil {
		t.Fatalf("beta consume: %v", err)
	}

	a, ok := alphaChats.Get(42)
	if !ok {
		t.Fatalf("alpha chat session missing")
	}
	b, ok := betaChats.Get(42)
	if !ok {
		t.Fatalf("beta chat session missing")
	}
	if a == b {
		t.Fatalf("bots share one chat session")
	}
	if v, _ := a.Get("messages"); v.(int) != 2 {
		t.Fatalf("alpha messages=%v want 2", v)
	}
	if v, _ := b.Get("messages"); v.(int) != 1 {
		t.Fatalf("beta messages=%v want 1", v)
	}
}

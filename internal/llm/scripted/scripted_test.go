package scripted

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChatReplaysInOrder(t *testing.T) {
	c := New("one", "two")
	ctx := context.Background()
	for _, want := range []string{"one", "two", HoldReply} {
		got, err := c.Chat(ctx, "p")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	}
	if c.Calls() != 3 {
		t.Errorf("expected 3 calls, got %d", c.Calls())
	}
}

func TestChatStreamConcatenates(t *testing.T) {
	reply := "a reply long enough to be split into several chunks"
	c := New(reply)
	c.ChunkSize = 5
	var b strings.Builder
	n := 0
	for chunk, err := range c.ChatStream(context.Background(), "p") {
		if err != nil {
			t.Fatal(err)
		}
		b.WriteString(chunk)
		n++
	}
	if b.String() != reply {
		t.Errorf("expected %q, got %q", reply, b.String())
	}
	if n < 2 {
		t.Errorf("expected several chunks, got %d", n)
	}
}

func TestChatError(t *testing.T) {
	c := New()
	c.Err = errors.New("boom")
	for _, err := range c.ChatStream(context.Background(), "p") {
		if err == nil || err.Error() != "boom" {
			t.Errorf("expected boom, got %v", err)
		}
	}
}

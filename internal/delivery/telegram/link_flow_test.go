package telegram

import (
	"context"
	"testing"
)

func TestLinkFlowSingleLoginPerUser(t *testing.T) {
	flow := newLinkFlow()

	if _, ok := flow.begin(1, "+33611111111"); !ok {
		t.Fatal("expected first login to start")
	}
	if _, ok := flow.begin(1, "+33622222222"); ok {
		t.Error("expected second login for the same user to be refused")
	}
	if _, ok := flow.begin(2, "+33622222222"); !ok {
		t.Error("expected another user to start a login")
	}

	flow.finish(1)
	if _, ok := flow.begin(1, "+33633333333"); !ok {
		t.Error("expected login to start again after finish")
	}
}

func TestLinkFlowRoutesRepliesToPendingLogin(t *testing.T) {
	flow := newLinkFlow()

	link, ok := flow.begin(1, "+33611111111")
	if !ok {
		t.Fatal("expected login to start")
	}

	if !flow.submit(1, "12345") {
		t.Fatal("expected reply to be routed to the pending login")
	}
	if flow.submit(99, "12345") {
		t.Error("expected reply without pending login to be rejected")
	}

	var prompts []string
	provider := &interactiveProvider{
		link: link,
		prompt: func(ctx context.Context, text string) {
			prompts = append(prompts, text)
		},
	}

	code, err := provider.GetCode(context.Background())
	if err != nil {
		t.Fatalf("GetCode failed: %v", err)
	}
	if code != "12345" {
		t.Errorf("expected code 12345, got %q", code)
	}
	if len(prompts) != 1 {
		t.Errorf("expected one prompt before reading the code, got %d", len(prompts))
	}
}

func TestInteractiveProviderHonorsContext(t *testing.T) {
	flow := newLinkFlow()
	link, _ := flow.begin(1, "+33611111111")

	provider := &interactiveProvider{
		link:   link,
		prompt: func(context.Context, string) {},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := provider.GetCode(ctx); err == nil {
		t.Error("expected error when context is cancelled")
	}
}

package bot_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/TymurD/miquella/internal/miquella/bot"
	"github.com/TymurD/miquella/internal/miquella/chat"
	"github.com/TymurD/miquella/internal/miquella/persona"
)

func TestRouter_Parse(t *testing.T) {
	r := bot.NewRouter("/", nil)

	tests := []struct {
		input    string
		wantName string
		wantText string
		wantErr  error
	}{
		{input: "/behavior", wantName: "behavior"},
		{input: "/behavior be kind", wantName: "behavior", wantText: "be kind"},
		{input: "  /behavior_append   keep  spacing  ", wantName: "behavior_append", wantText: "keep  spacing"},
		{input: "/behavior\nmulti\nline", wantName: "behavior", wantText: "multi\nline"},
		{input: "hello /behavior", wantErr: bot.ErrNotACommand},
		{input: "/", wantErr: bot.ErrNotACommand},
		{input: "", wantErr: bot.ErrNotACommand},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			cmd, err := r.Parse(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse(%q) err = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if cmd.Name != tt.wantName || cmd.Text != tt.wantText {
				t.Errorf("Parse(%q) = {%q %q}, want {%q %q}", tt.input, cmd.Name, cmd.Text, tt.wantName, tt.wantText)
			}
		})
	}
}

func newPersonaRouter(t *testing.T, admins []string) (*bot.Router, *persona.Store, *memPort) {
	t.Helper()
	port := &memPort{cfg: persona.Config{DefaultInstruction: "You are a cat. "}}
	store, err := persona.New(context.Background(), port, quietLogger())
	if err != nil {
		t.Fatalf("persona.New: %v", err)
	}
	r := bot.NewRouter("/", admins)
	bot.RegisterPersonaCommands(r, store)
	return r, store, port
}

func handle(t *testing.T, r *bot.Router, sender, text string) (string, bool, error) {
	t.Helper()
	return r.Handle(context.Background(), chat.Message{ID: "c1", Author: sender, SenderID: sender, Content: text, ChannelID: "room"})
}

func TestPersonaCommands(t *testing.T) {
	r, store, port := newPersonaRouter(t, nil)

	reply, handled, err := handle(t, r, "alice", "/behavior_show")
	if err != nil || !handled || reply != "Behavior is empty." {
		t.Fatalf("show empty = %q %v %v", reply, handled, err)
	}

	reply, _, err = handle(t, r, "alice", "/behavior  talk like a pirate ")
	if err != nil || reply != "Behavior updated." {
		t.Fatalf("set = %q %v", reply, err)
	}
	if got := store.Get(); got != "Talk like a pirate. " {
		t.Errorf("persona = %q", got)
	}

	reply, _, err = handle(t, r, "alice", "/behavior_append say arr")
	if err != nil || reply != "Behavior appended." {
		t.Fatalf("append = %q %v", reply, err)
	}
	if got := store.Get(); got != "Talk like a pirate. Say arr. " {
		t.Errorf("persona = %q", got)
	}
	if port.cfg.PersonaInstruction != store.Get() {
		t.Errorf("port not written through: %q", port.cfg.PersonaInstruction)
	}

	reply, _, _ = handle(t, r, "alice", "/behavior_show")
	if reply != "Talk like a pirate. Say arr. " {
		t.Errorf("show = %q", reply)
	}

	reply, _, err = handle(t, r, "alice", "/behavior")
	if err != nil || reply != "Behavior reset to default." {
		t.Fatalf("reset = %q %v", reply, err)
	}
	if store.Get() != "" {
		t.Errorf("persona after reset = %q", store.Get())
	}
	if store.SystemPrompt() != "You are a cat. " {
		t.Errorf("system prompt after reset = %q", store.SystemPrompt())
	}
}

func TestPersonaCommands_AppendUsage(t *testing.T) {
	r, store, _ := newPersonaRouter(t, nil)

	reply, handled, err := handle(t, r, "alice", "/behavior_append   ")
	if err != nil || !handled {
		t.Fatalf("append empty: %v %v", handled, err)
	}
	if reply != "Usage: /behavior_append <text>" {
		t.Errorf("reply = %q", reply)
	}
	if store.Get() != "" {
		t.Errorf("persona changed: %q", store.Get())
	}
}

func TestPersonaCommands_ShowTooLong(t *testing.T) {
	r, store, _ := newPersonaRouter(t, nil)
	if err := store.Set(context.Background(), strings.Repeat("a", persona.DisplayLimit+50)); err != nil {
		t.Fatal(err)
	}

	reply, _, err := handle(t, r, "alice", "/behavior_show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(reply, "Behavior is too long to display") {
		t.Errorf("reply = %q", reply)
	}
}

func TestPersonaCommands_SaveFailure(t *testing.T) {
	r, store, port := newPersonaRouter(t, nil)
	port.err = errBoom

	_, handled, err := handle(t, r, "alice", "/behavior be loud")
	if !handled || !errors.Is(err, errBoom) {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if store.Get() != "" {
		t.Errorf("persona changed despite failed save: %q", store.Get())
	}
}

func TestRouter_UnknownIsConversation(t *testing.T) {
	r, _, _ := newPersonaRouter(t, nil)

	for _, text := range []string{"/shrug", "hello there", ""} {
		_, handled, err := handle(t, r, "alice", text)
		if handled || err != nil {
			t.Errorf("Handle(%q) handled=%v err=%v", text, handled, err)
		}
	}
}

func TestRouter_Admins(t *testing.T) {
	r, store, _ := newPersonaRouter(t, []string{"@admin:example.org"})

	_, handled, err := handle(t, r, "@mallory:example.org", "/behavior be evil")
	if !handled || !errors.Is(err, bot.ErrNotPermitted) {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if store.Get() != "" {
		t.Errorf("persona changed by non-admin: %q", store.Get())
	}

	if _, _, err := handle(t, r, "@admin:example.org", "/behavior be good"); err != nil {
		t.Fatalf("admin: %v", err)
	}
	if store.Get() != "Be good. " {
		t.Errorf("persona = %q", store.Get())
	}
}

func TestRouter_AdminsMatchSenderNotDisplayName(t *testing.T) {
	r, store, _ := newPersonaRouter(t, []string{"@admin:example.org"})

	spoof := chat.Message{ID: "c1", Author: "@admin:example.org", SenderID: "@mallory:example.org", Content: "/behavior be evil", ChannelID: "room"}
	if _, _, err := r.Handle(context.Background(), spoof); !errors.Is(err, bot.ErrNotPermitted) {
		t.Fatalf("display name spoof: err=%v", err)
	}
	if store.Get() != "" {
		t.Errorf("persona changed by spoofed author: %q", store.Get())
	}

	renamed := chat.Message{ID: "c2", Author: "Admin", SenderID: "@admin:example.org", Content: "/behavior be good", ChannelID: "room"}
	if _, _, err := r.Handle(context.Background(), renamed); err != nil {
		t.Fatalf("admin with display name: %v", err)
	}
	if store.Get() != "Be good. " {
		t.Errorf("persona = %q", store.Get())
	}
}

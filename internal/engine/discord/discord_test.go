package discord

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"chatgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func stateSession() *discordgo.Session {
	return &discordgo.Session{State: discordgo.NewState()}
}

func TestMessageCreateBecomesRawEvent(t *testing.T) {
	e := New(Config{Logger: testLogger()})

	e.onMessageCreate(stateSession(), &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		ChannelID: "chan-1",
		Content:   "Hello",
		Author:    &discordgo.User{ID: "user-1"},
		Timestamp: time.Now(),
	}})

	select {
	case evt := <-e.Events():
		if evt.Kind != "message" || evt.Message == nil {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Message.From != "user-1" || evt.Message.To != "chan-1" || evt.Message.Body != "Hello" {
			t.Errorf("bad raw message: %+v", evt.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestGuildFilterDropsForeignMessages(t *testing.T) {
	e := New(Config{GuildID: "guild-1", Logger: testLogger()})

	e.onMessageCreate(stateSession(), &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "msg-1",
		GuildID:   "guild-other",
		ChannelID: "chan-1",
		Content:   "nope",
		Author:    &discordgo.User{ID: "user-1"},
	}})

	select {
	case evt := <-e.Events():
		t.Fatalf("foreign guild message leaked: %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemberEventsMapToGroupNotices(t *testing.T) {
	e := New(Config{Logger: testLogger()})

	e.onMemberAdd(stateSession(), &discordgo.GuildMemberAdd{Member: &discordgo.Member{
		GuildID: "guild-1",
		User:    &discordgo.User{ID: "user-9"},
	}})

	select {
	case evt := <-e.Events():
		if evt.Kind != "group.join" || evt.Group == nil {
			t.Fatalf("unexpected event: %+v", evt)
		}
		if evt.Group.GroupID != "guild-1" || evt.Group.Participant != "user-9" {
			t.Errorf("bad group notice: %+v", evt.Group)
		}
	case <-time.After(time.Second):
		t.Fatal("no event emitted")
	}
}

func TestAttachmentFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Write([]byte("file-bytes"))
	}))
	defer srv.Close()

	data, err := fetchAttachment(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "file-bytes" {
		t.Errorf("got %q", data)
	}
}

func TestKindMapOmitsAcks(t *testing.T) {
	m := New(Config{Logger: testLogger()}).KindMap()
	if _, ok := m["message"]; !ok {
		t.Error("message kind missing")
	}
	// Discord has no delivery receipts, so no raw kind may map to acks.
	for raw, kind := range m {
		if kind == domain.EventMessageAck {
			t.Errorf("unexpected ack mapping for %q", raw)
		}
	}
}

package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"relaychat/internal/storage"
)

func TestParseCommand(t *testing.T) {
	cmd, err := parseCommand("/msg bob  hello   there ")
	if err != nil {
		t.Fatalf("parse /msg: %v", err)
	}
	if cmd.name != "msg" || cmd.args[0] != "bob" || cmd.rest != "hello   there" {
		t.Fatalf("unexpected /msg parse %+v", cmd)
	}

	cmd, err = parseCommand("/React 3 👍 remove")
	if err != nil || cmd.name != "react" || cmd.args[1] != "👍" {
		t.Fatalf("unexpected /react parse %+v err=%v", cmd, err)
	}

	cmd, err = parseCommand("/attach ./cat.png look at this")
	if err != nil || cmd.args[0] != "./cat.png" || cmd.rest != "look at this" {
		t.Fatalf("unexpected /attach parse %+v err=%v", cmd, err)
	}

	bad := []string{"/", "/dance", "/msg bob", "/react x 👍", "/react 1 👍 sideways", "/attach", "hello"}
	for _, line := range bad {
		if _, err := parseCommand(line); err == nil {
			t.Fatalf("expected %q to be rejected", line)
		}
	}
}

func TestJoinAndHTTPBaseURLs(t *testing.T) {
	joinURL, err := buildJoinURL("ws://localhost:8080/socket", "ann marie")
	if err != nil || joinURL != "ws://localhost:8080/socket?username=ann+marie" {
		t.Fatalf("unexpected join URL %q err=%v", joinURL, err)
	}
	if _, err := buildJoinURL("http://localhost:8080/socket", "ann"); err == nil {
		t.Fatalf("expected http scheme to be rejected")
	}
	base, err := httpBaseFromJoinURL("wss://chat.example.com/socket?username=x")
	if err != nil || base != "https://chat.example.com" {
		t.Fatalf("unexpected base %q err=%v", base, err)
	}
}

func TestApplyEventTracksRoomsAndReactions(t *testing.T) {
	model := NewTUIModel("ws://localhost/socket", "alice", "")
	public := storage.Message{ID: "m1", Username: "bob", Text: "hi", Room: PublicRoom, Timestamp: 1}
	private := storage.Message{ID: "m2", Username: "bob", To: "alice", Text: "psst", Room: RoomKey("alice", "bob"), Timestamp: 2}

	model.applyEvent(envelope(t, EventMessage, public))
	model.applyEvent(envelope(t, EventMessage, private))
	model.applyEvent(envelope(t, EventMessage, public))

	if got := len(model.roomMessages()); got != 1 {
		t.Fatalf("expected one public message after a duplicate, got %d", got)
	}
	if model.unread[RoomKey("alice", "bob")] != 1 {
		t.Fatalf("expected the private message counted as unread, got %v", model.unread)
	}
	if len(model.notices) != 1 || !strings.Contains(model.notices[0].text, "bob") {
		t.Fatalf("expected a private message notice, got %+v", model.notices)
	}

	model.applyEvent(envelope(t, EventMessageReaction, ReactionUpdate{
		MessageID: "m1", Emoji: "👍", Username: "alice", Type: ReactionAdd, Changed: true,
		Reactions: storage.Reactions{"👍": {"alice"}},
	}))
	if summary := summarizeReactions(model.roomMessages()[0].Reactions); summary != "👍 1" {
		t.Fatalf("unexpected reaction summary %q", summary)
	}

	model.peer = "bob"
	model.applyEvent(envelope(t, EventPreviousMessages, historyPayload{Room: RoomKey("alice", "bob"), Messages: []storage.Message{private}}))
	if len(model.roomMessages()) != 1 || model.unread[RoomKey("alice", "bob")] != 0 {
		t.Fatalf("history replay should dedupe and clear unread: %d %v", len(model.roomMessages()), model.unread)
	}

	model.applyEvent(envelope(t, EventOnlineUsers, []string{"alice", "bob"}))
	model.applyEvent(envelope(t, EventError, errorPayload{Code: "rate_limited", Message: "too many events, slow down"}))
	if len(model.online) != 2 {
		t.Fatalf("expected online list, got %v", model.online)
	}
	lastNotice := model.notices[len(model.notices)-1]
	if !lastNotice.isErr || !strings.Contains(lastNotice.text, "rate_limited") {
		t.Fatalf("expected error notice, got %+v", lastNotice)
	}
	if view := model.View(); !strings.Contains(view, "Private with bob") || !strings.Contains(view, "psst") {
		t.Fatalf("view does not show the private room:\n%s", view)
	}
}

func TestSummarizeReactionsSkipsEmpty(t *testing.T) {
	got := summarizeReactions(storage.Reactions{"🎉": {"a", "b"}, "👍": {}, "❤️": {"c"}})
	if got != "❤️ 1  🎉 2" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestClientConnectsAndSendsOverSocket(t *testing.T) {
	_, ts := newLiveServer(t, Options{})
	bob := dialAs(t, ts, "bob")
	readUntil(t, bob, EventPreviousMessages)

	joinURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
	model := NewTUIModel(joinURL, "alice", "")
	connected, ok := model.connectCmd()().(connectedMsg)
	if !ok {
		t.Fatalf("expected the client to connect")
	}
	model.Update(connected)
	t.Cleanup(func() { model.closeConn("test done") })

	for {
		ev, ok := readOnceCmd(connected.conn)().(serverEventMsg)
		if !ok {
			t.Fatalf("connection ended before history arrived")
		}
		model.applyEvent(ev.env)
		if ev.env.Event == EventPreviousMessages {
			break
		}
	}

	if res := model.sendMessageCmd("hello bob", "bob", nil)(); res != nil {
		t.Fatalf("send failed: %v", res)
	}
	env := readUntil(t, bob, EventMessage)
	var msg storage.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Username != "alice" || msg.To != "bob" || msg.Text != "hello bob" {
		t.Fatalf("unexpected delivered message %+v", msg)
	}
}

func TestFatalHandshakeStopsRetrying(t *testing.T) {
	_, ts := newLiveServer(t, Options{})
	joinURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
	model := NewTUIModel(joinURL, "bad|name", "")
	failed, ok := model.connectCmd()().(connectFailedMsg)
	if !ok || !failed.fatal {
		t.Fatalf("expected a fatal connect failure, got %#v", failed)
	}
	if _, cmd := model.Update(failed); cmd != nil {
		t.Fatalf("a rejected name must not schedule a reconnect")
	}
}

func TestAPIUploadRoundTrip(t *testing.T) {
	srv := newTestServer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)
	mux := http.NewServeMux()
	mux.HandleFunc("/socket", srv.ServeWS)
	mux.HandleFunc("/api/upload", srv.HandleFileUpload)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		<-srv.Hub().Done()
		ts.Close()
	})
	carol := dialAs(t, ts, "carol")
	readUntil(t, carol, EventPreviousMessages)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("meeting at noon"), 0o600); err != nil {
		t.Fatal(err)
	}
	attachment, err := apiUpload(ts.URL, "carol", path)
	if err != nil {
		t.Fatalf("apiUpload: %v", err)
	}
	if attachment.Name != "notes.txt" || attachment.Type != "file" || !strings.HasPrefix(attachment.URL, "/api/files/") {
		t.Fatalf("unexpected attachment %+v", attachment)
	}

	if _, err := apiUpload(ts.URL, "nobody", path); err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected offline uploader rejected, got %v", err)
	}
}

func TestBrowseDirectoryListsDirectoriesFirst(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "zeta"), 0o700); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{"a.txt": "12345", ".hidden": "x"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	items, err := browseDirectory(dir)
	if err != nil {
		t.Fatalf("browseDirectory: %v", err)
	}
	if len(items) != 2 || !items[0].IsDir || items[1].Name != "a.txt" {
		t.Fatalf("unexpected listing %+v", items)
	}
	if label := items[1].Label(); label != "a.txt  5 B" {
		t.Fatalf("unexpected label %q", label)
	}
}

func envelope(t *testing.T, event string, data any) Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	return Envelope{Event: event, Data: raw}
}

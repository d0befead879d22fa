package internal

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"relaychat/internal/storage"
)

// TUIModel is the bubbletea state of the chat client: the input line, the
// message log of every room seen so far and the websocket connection.
type TUIModel struct {
	textInput       textinput.Model
	serverJoinURL   string
	username        string
	peer            string
	log             map[string][]*storage.Message
	byID            map[string]*storage.Message
	notices         []notice
	unread          map[string]int
	online          []string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	retries         int
	lastActivity    time.Time
	quitting        bool
	width           int
}

// notice is a line rendered in the log that did not come from another user.
type notice struct {
	at    time.Time
	text  string
	isErr bool
}

const maxNotices = 50

// NewTUIModel prepares a client that joins as username. A non-empty peer
// opens the private conversation with that user instead of the public room.
func NewTUIModel(serverJoinURL, username, peer string) *TUIModel {
	input := textinput.New()
	input.Placeholder = "Type a message or /help…"
	input.CharLimit = 0
	input.Focus()
	input.Prompt = "> "

	if username == "" {
		username = defaultUsername()
	}

	return &TUIModel{
		textInput:     input,
		serverJoinURL: serverJoinURL,
		username:      username,
		peer:          peer,
		log:           make(map[string][]*storage.Message),
		byID:          make(map[string]*storage.Message),
		unread:        make(map[string]int),
	}
}

func defaultUsername() string {
	if user := os.Getenv("RELAYCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.connectCmd())
}

// activeRoom is the room whose log is on screen.
func (model *TUIModel) activeRoom() string {
	if model.peer == "" {
		return PublicRoom
	}
	return RoomKey(model.username, model.peer)
}

// roomMessages returns the visible log of the active room.
func (model *TUIModel) roomMessages() []*storage.Message {
	return model.log[model.activeRoom()]
}

// addMessage appends msg to its room log unless it is already known. It
// returns false for duplicates, which happen when history replays overlap
// with live traffic after a reconnect.
func (model *TUIModel) addMessage(msg storage.Message) bool {
	if existing, ok := model.byID[msg.ID]; ok {
		existing.Reactions = msg.Reactions
		return false
	}
	stored := msg
	model.byID[msg.ID] = &stored
	model.log[msg.Room] = append(model.log[msg.Room], &stored)
	return true
}

func (model *TUIModel) addNotice(text string, isErr bool) {
	model.notices = append(model.notices, notice{at: time.Now(), text: text, isErr: isErr})
	if len(model.notices) > maxNotices {
		model.notices = model.notices[len(model.notices)-maxNotices:]
	}
}

// peerOf returns the other participant of a private message.
func (model *TUIModel) peerOf(msg *storage.Message) string {
	if msg.Username == model.username {
		return msg.To
	}
	return msg.Username
}

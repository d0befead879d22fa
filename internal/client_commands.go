package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"relaychat/internal/storage"
)

const (
	baseRetryDelay   = 1 * time.Second
	maxRetryDelay    = 30 * time.Second
	activityInterval = time.Minute
)

// bubbletea messages produced by the network side of the client.
type (
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct {
		err   error
		fatal bool
	}
	disconnectedMsg  struct {
		err  error
		code int
	}
	reconnectMsg   struct{}
	serverEventMsg struct{ env Envelope }
	sendFailedMsg  struct{ err error }
	uploadedMsg    struct {
		attachment *storage.Attachment
		caption    string
		to         string
	}
	uploadFailedMsg struct{ err error }
	listingMsg      struct {
		dir   string
		items []FileItem
		err   error
	}
)

// chatCommand is a parsed slash command typed into the input line.
type chatCommand struct {
	name string
	args []string
	rest string
}

var errUnknownCommand = errors.New("unknown command, try /help")

const helpText = `/msg <user> <text>      send a private message
/join [user]            open the private room with user, or the public room
/react <n> <emoji> [add|remove]
                        react to message n of the current room (toggle by default)
/attach <path> [text]   upload a file and send it
/ls [dir]               list files you could attach
/who                    refresh the online list
/quit                   leave`

// parseCommand splits a slash command into its name, its arguments and the
// raw text following the first argument.
func parseCommand(line string) (chatCommand, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return chatCommand{}, fmt.Errorf("not a command: %q", line)
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return chatCommand{}, errUnknownCommand
	}
	cmd := chatCommand{name: strings.ToLower(fields[0]), args: fields[1:]}
	if len(fields) > 1 {
		afterName := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[1:]), fields[0]))
		afterFirst := strings.TrimSpace(strings.TrimPrefix(afterName, fields[1]))
		cmd.rest = afterFirst
	}

	switch cmd.name {
	case "msg", "m":
		if len(cmd.args) < 2 {
			return cmd, errors.New("usage: /msg <user> <text>")
		}
	case "react", "r":
		if len(cmd.args) < 2 {
			return cmd, errors.New("usage: /react <n> <emoji> [add|remove]")
		}
		if _, err := strconv.Atoi(cmd.args[0]); err != nil {
			return cmd, fmt.Errorf("message number must be an integer, got %q", cmd.args[0])
		}
		if len(cmd.args) > 2 {
			switch ReactionMode(strings.ToLower(cmd.args[2])) {
			case ReactionAdd, ReactionRemove, ReactionToggle:
			default:
				return cmd, fmt.Errorf("reaction mode must be add, remove or toggle, got %q", cmd.args[2])
			}
		}
	case "attach", "a":
		if len(cmd.args) < 1 {
			return cmd, errors.New("usage: /attach <path> [text]")
		}
	case "join", "j", "who", "w", "ls", "help", "h", "quit", "exit", "q":
	default:
		return cmd, errUnknownCommand
	}
	return cmd, nil
}

// scheduleReconnect backs off exponentially up to maxRetryDelay.
func (model *TUIModel) scheduleReconnect() tea.Cmd {
	delay := baseRetryDelay << min(model.retries, 5)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	model.retries++
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *TUIModel) connectCmd() tea.Cmd {
	joinURL := model.serverJoinURL
	username := model.username
	return func() tea.Msg {
		target, err := buildJoinURL(joinURL, username)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		dialer := *websocket.DefaultDialer
		dialer.HandshakeTimeout = httpTimeout
		conn, resp, err := dialer.Dial(target, http.Header{})
		if err != nil {
			if resp != nil {
				defer resp.Body.Close()
				// a rejected name will be rejected again on every retry
				fatal := resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusConflict
				return connectFailedMsg{err: fmt.Errorf("%w: %s", err, readResponseError(resp.Body)), fatal: fatal}
			}
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readOnceCmd blocks for the next frame of conn. Update schedules it again
// after every event so exactly one read is in flight.
func readOnceCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				code := 0
				var closeErr *websocket.CloseError
				if errors.As(err, &closeErr) {
					code = closeErr.Code
				}
				return disconnectedMsg{err: err, code: code}
			}
			if messageType != websocket.TextMessage {
				continue
			}
			var env Envelope
			if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
				continue
			}
			return serverEventMsg{env: env}
		}
	}
}

// sendEventCmd writes one {"event","data"} frame.
func (model *TUIModel) sendEventCmd(event string, data any) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return sendFailedMsg{err: errors.New("not connected")}
		}
		model.writeMutex.Lock()
		defer model.writeMutex.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, encodeEvent(event, data)); err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) sendMessageCmd(text, to string, attachment *storage.Attachment) tea.Cmd {
	payload := map[string]any{"text": text}
	if to != "" {
		payload["to"] = to
	}
	if attachment != nil {
		payload["attachment"] = attachment
	}
	return model.sendEventCmd(EventMessage, payload)
}

func (model *TUIModel) joinRoomCmd(target string) tea.Cmd {
	return model.sendEventCmd(EventJoinRoom, map[string]string{"targetUsername": target})
}

// activityCmd keeps the connection from being swept as idle while the user is
// typing but not sending anything.
func (model *TUIModel) activityCmd() tea.Cmd {
	if !model.isConnected || time.Since(model.lastActivity) < activityInterval {
		return nil
	}
	model.lastActivity = time.Now()
	return model.sendEventCmd(EventActivity, struct{}{})
}

func (model *TUIModel) uploadCmd(path, caption, to string) tea.Cmd {
	joinURL := model.serverJoinURL
	username := model.username
	return func() tea.Msg {
		base, err := httpBaseFromJoinURL(joinURL)
		if err != nil {
			return uploadFailedMsg{err: err}
		}
		attachment, err := apiUpload(base, username, path)
		if err != nil {
			return uploadFailedMsg{err: err}
		}
		return uploadedMsg{attachment: attachment, caption: caption, to: to}
	}
}

func listingCmd(dir string) tea.Cmd {
	return func() tea.Msg {
		if dir == "" {
			dir = defaultBrowsePath()
		}
		items, err := browseDirectory(dir)
		return listingMsg{dir: dir, items: items, err: err}
	}
}

func (model *TUIModel) closeConn(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), time.Now().Add(writeWait))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}

// RunClient starts the terminal client and blocks until the user quits.
func RunClient(serverJoinURL, username, peer string) error {
	program := tea.NewProgram(NewTUIModel(serverJoinURL, username, peer), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// buildJoinURL adds the display name to the websocket join URL.
func buildJoinURL(base, username string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("username", username)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

package internal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"relaychat/internal/storage"
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		model.textInput.Width = max(typedMessage.Width-6, 10)
		return model, nil

	case tea.KeyMsg:
		switch typedMessage.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			model.quitting = true
			model.closeConn("client quit")
			return model, tea.Quit
		case tea.KeyEnter:
			line := strings.TrimSpace(model.textInput.Value())
			model.textInput.SetValue("")
			if line == "" {
				return model, nil
			}
			if strings.HasPrefix(line, "/") {
				return model, model.runCommand(line)
			}
			if !model.isConnected {
				model.addNotice("not connected, message not sent", true)
				return model, nil
			}
			return model, model.sendMessageCmd(line, model.peer, nil)
		}
		var cmd tea.Cmd
		model.textInput, cmd = model.textInput.Update(typedMessage)
		return model, tea.Batch(cmd, model.activityCmd())

	case connectedMsg:
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		model.retries = 0
		model.addNotice(fmt.Sprintf("connected as %s", model.username), false)
		cmds := []tea.Cmd{readOnceCmd(typedMessage.conn)}
		if model.peer != "" {
			cmds = append(cmds, model.joinRoomCmd(model.peer))
		}
		return model, tea.Batch(cmds...)

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		if typedMessage.fatal {
			model.addNotice("server refused the connection: "+typedMessage.err.Error(), true)
			return model, nil
		}
		return model, model.scheduleReconnect()

	case disconnectedMsg:
		model.websocketConn = nil
		model.isConnected = false
		if model.quitting {
			return model, nil
		}
		model.connectionError = typedMessage.err
		switch typedMessage.code {
		case closeSuperseded:
			model.addNotice("signed in from another session, this one was closed", true)
			return model, nil
		case closeNameTaken:
			model.addNotice(fmt.Sprintf("the name %s is already taken", model.username), true)
			return model, nil
		case closeIdle:
			model.addNotice("disconnected after being idle, reconnecting", true)
		case closeSlow:
			model.addNotice("disconnected for falling behind, reconnecting", true)
		default:
			model.addNotice("connection lost, reconnecting", true)
		}
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.isConnected && !model.quitting {
			return model, model.connectCmd()
		}
		return model, nil

	case serverEventMsg:
		model.applyEvent(typedMessage.env)
		if model.websocketConn != nil {
			return model, readOnceCmd(model.websocketConn)
		}
		return model, nil

	case sendFailedMsg:
		model.addNotice("send failed: "+typedMessage.err.Error(), true)
		return model, nil

	case uploadedMsg:
		model.addNotice(fmt.Sprintf("uploaded %s", typedMessage.attachment.Name), false)
		return model, model.sendMessageCmd(typedMessage.caption, typedMessage.to, typedMessage.attachment)

	case uploadFailedMsg:
		model.addNotice("upload failed: "+typedMessage.err.Error(), true)
		return model, nil

	case listingMsg:
		if typedMessage.err != nil {
			model.addNotice(typedMessage.err.Error(), true)
			return model, nil
		}
		model.addNotice(typedMessage.dir+":", false)
		if len(typedMessage.items) == 0 {
			model.addNotice("  (empty)", false)
		}
		for _, item := range typedMessage.items {
			model.addNotice("  "+item.Label(), false)
		}
		return model, nil
	}
	return model, nil
}

func (model *TUIModel) runCommand(line string) tea.Cmd {
	cmd, err := parseCommand(line)
	if err != nil {
		model.addNotice(err.Error(), true)
		return nil
	}
	switch cmd.name {
	case "quit", "exit", "q":
		model.quitting = true
		model.closeConn("client quit")
		return tea.Quit
	case "help", "h":
		for _, l := range strings.Split(helpText, "\n") {
			model.addNotice(l, false)
		}
		return nil
	case "ls":
		dir := ""
		if len(cmd.args) > 0 {
			dir = cmd.args[0]
		}
		return listingCmd(dir)
	}

	if !model.isConnected {
		model.addNotice("not connected", true)
		return nil
	}
	switch cmd.name {
	case "msg", "m":
		return model.sendMessageCmd(cmd.rest, cmd.args[0], nil)
	case "join", "j":
		target := ""
		if len(cmd.args) > 0 {
			target = cmd.args[0]
		}
		if target == model.username {
			model.addNotice("you cannot open a private room with yourself", true)
			return nil
		}
		model.peer = target
		delete(model.unread, model.activeRoom())
		return model.joinRoomCmd(target)
	case "who", "w":
		return model.sendEventCmd(EventGetOnlineUsers, struct{}{})
	case "react", "r":
		n, _ := strconv.Atoi(cmd.args[0])
		messages := model.roomMessages()
		if n < 1 || n > len(messages) {
			model.addNotice(fmt.Sprintf("no message #%d in this room", n), true)
			return nil
		}
		mode := ReactionToggle
		if len(cmd.args) > 2 {
			mode = ReactionMode(strings.ToLower(cmd.args[2]))
		}
		return model.sendEventCmd(EventReaction, map[string]string{
			"messageId": messages[n-1].ID,
			"emoji":     cmd.args[1],
			"type":      string(mode),
		})
	case "attach", "a":
		return model.uploadCmd(cmd.args[0], cmd.rest, model.peer)
	}
	return nil
}

// applyEvent folds one server event into the model.
func (model *TUIModel) applyEvent(env Envelope) {
	switch env.Event {
	case EventMessage:
		var msg storage.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		if model.addMessage(msg) && msg.Room != model.activeRoom() {
			model.unread[msg.Room]++
			if msg.Private() && msg.Username != model.username {
				model.addNotice(fmt.Sprintf("new private message from %s (/join %s)", msg.Username, msg.Username), false)
			}
		}
	case EventPreviousMessages:
		var history historyPayload
		if err := json.Unmarshal(env.Data, &history); err != nil {
			return
		}
		for _, msg := range history.Messages {
			model.addMessage(msg)
		}
		delete(model.unread, history.Room)
	case EventMessageReaction:
		var update ReactionUpdate
		if err := json.Unmarshal(env.Data, &update); err != nil {
			return
		}
		if msg, ok := model.byID[update.MessageID]; ok {
			msg.Reactions = update.Reactions
		}
	case EventOnlineUsers:
		var users []string
		if err := json.Unmarshal(env.Data, &users); err != nil {
			return
		}
		model.online = users
	case EventUserJoined, EventUserLeft:
		var user userPayload
		if err := json.Unmarshal(env.Data, &user); err != nil || user.Username == model.username {
			return
		}
		verb := "joined"
		if env.Event == EventUserLeft {
			verb = "left"
		}
		model.addNotice(fmt.Sprintf("%s %s", user.Username, verb), false)
	case EventError:
		var payload errorPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return
		}
		model.addNotice(describeServerError(payload), true)
	}
}

func describeServerError(payload errorPayload) string {
	if payload.Message == "" {
		return payload.Code
	}
	return fmt.Sprintf("%s (%s)", payload.Message, payload.Code)
}

package internal

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"relaychat/internal/storage"
)

// pre styled colors, all from lipgloss
var (
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1).MarginTop(1)
	onlineBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1).MarginLeft(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	indexStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	attachmentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Underline(true)
	reactionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	noticeErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const (
	visibleMessages = 20
	visibleNotices  = 6
)

func (model *TUIModel) View() string {
	if model.quitting {
		return ""
	}
	header := chatHeaderStyle.Render(strings.Join(model.headerSegments(), dividerStyle))

	var statusLine string
	switch {
	case model.isConnected:
		statusLine = connectedStyle.Render("Connected")
	case model.connectionError != nil:
		statusLine = errorStyle.Render("Connection error: " + model.connectionError.Error())
	default:
		statusLine = connectingStyle.Render("Connecting…")
	}
	if unread := model.renderUnread(); unread != "" {
		statusLine = lipgloss.JoinHorizontal(lipgloss.Top, statusLine, "  ", unread)
	}

	messages := model.roomMessages()
	start := max(len(messages)-visibleMessages, 0)
	var messageLines []string
	for i := start; i < len(messages); i++ {
		messageLines = append(messageLines, model.renderChatMessage(i+1, messages[i]))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	body := lipgloss.JoinHorizontal(lipgloss.Top, messagesView, model.renderOnline())

	sections := []string{header, statusLine, body}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("/help for commands • Esc or /quit to leave"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) headerSegments() []string {
	segments := []string{"RelayChat"}
	if model.peer != "" {
		segments = append(segments, fmt.Sprintf("Private with %s", model.peer))
	} else {
		segments = append(segments, "Public room")
	}
	segments = append(segments, fmt.Sprintf("User %s", model.username), fmt.Sprintf("Server %s", model.serverJoinURL))
	return segments
}

func (model *TUIModel) renderUnread() string {
	var parts []string
	for room, count := range model.unread {
		if count == 0 || room == model.activeRoom() {
			continue
		}
		label := room
		if room != PublicRoom {
			label = "@" + model.roomPeer(room)
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", label, count))
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	return statusStyle.Render("unread: " + strings.Join(parts, ", "))
}

// roomPeer returns the other name in a private room key.
func (model *TUIModel) roomPeer(room string) string {
	for _, name := range strings.SplitN(room, roomSeparator, 2) {
		if name != model.username {
			return name
		}
	}
	return room
}

func (model *TUIModel) renderOnline() string {
	lines := []string{usernameStyle.Render(fmt.Sprintf("Online (%d)", len(model.online)))}
	for _, name := range model.online {
		style := usernameStyle.Copy().Foreground(colorForUser(name))
		if name == model.username {
			style = activeUserStyle
		}
		lines = append(lines, presenceDot()+" "+style.Render(name))
	}
	return onlineBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	start := max(len(model.notices)-visibleNotices, 0)
	var lines []string
	for _, n := range model.notices[start:] {
		style := systemMessageStyle
		if n.isErr {
			style = noticeErrorStyle
		}
		lines = append(lines, timestampStyle.Render(n.at.Format("15:04:05"))+" "+style.Render(n.text))
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderChatMessage renders one log line: its number for /react, the time,
// the sender, the text, the attachment and the reaction summary.
func (model *TUIModel) renderChatMessage(index int, chat *storage.Message) string {
	sent := time.UnixMilli(chat.Timestamp)
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", sent.Format("15:04:05")))

	nameStyle := usernameStyle.Copy().Foreground(colorForUser(chat.Username))
	if chat.Username == model.username {
		nameStyle = activeUserStyle
	}

	parts := []string{indexStyle.Render(fmt.Sprintf("%3d", index)), " ", timestamp, " ", nameStyle.Render(chat.Username), ": "}
	if chat.Text != "" {
		parts = append(parts, messageBodyStyle.Render(strings.ReplaceAll(chat.Text, "\n", "\n   ")))
	}
	if chat.Attachment != nil {
		if chat.Text != "" {
			parts = append(parts, " ")
		}
		parts = append(parts, attachmentStyle.Render(describeAttachment(chat.Attachment)))
	}
	line := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	if summary := summarizeReactions(chat.Reactions); summary != "" {
		line = lipgloss.JoinVertical(lipgloss.Left, line, "      "+reactionStyle.Render(summary))
	}
	return line
}

func describeAttachment(a *storage.Attachment) string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(a.Type)
	sb.WriteString(": ")
	sb.WriteString(a.Name)
	if a.Size > 0 {
		sb.WriteString(", ")
		sb.WriteString(humanize.IBytes(uint64(a.Size)))
	}
	sb.WriteString("]")
	if a.URL != "" {
		sb.WriteString(" ")
		sb.WriteString(a.URL)
	}
	return sb.String()
}

// summarizeReactions renders "👍 2  🎉 1" with emojis sorted for a stable view.
func summarizeReactions(reactions storage.Reactions) string {
	emojis := make([]string, 0, len(reactions))
	for emoji, users := range reactions {
		if len(users) > 0 {
			emojis = append(emojis, emoji)
		}
	}
	sort.Strings(emojis)
	parts := make([]string, 0, len(emojis))
	for _, emoji := range emojis {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, len(reactions[emoji])))
	}
	return strings.Join(parts, "  ")
}

func presenceDot() string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}

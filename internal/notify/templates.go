package notify

import (
	"fmt"
	"html"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tis24dev/vzsave/pkg/utils"
)

// Telegram rejects messages longer than 4096 characters.
const telegramMaxText = 4096

// BuildEmailSubject builds the email subject line: "[<id>] Backup: <label>".
func BuildEmailSubject(event *Event) string {
	return fmt.Sprintf("[%s] Backup: %s", event.MachineID, event.Type.Label())
}

// BuildEmailPlainText returns the plain-text alternative: the message as is.
func BuildEmailPlainText(event *Event) string {
	return event.Message
}

// BuildEmailHTML renders the message as HTML, escaping it and turning line
// breaks into <br> tags, under a colored status heading.
func BuildEmailHTML(event *Event) string {
	var body strings.Builder
	body.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"UTF-8\">\n</head>\n")
	body.WriteString("<body style=\"font-family: 'Segoe UI', Arial, sans-serif; color: #333;\">\n")
	fmt.Fprintf(&body, "<h2 style=\"color: %s;\">VM %s: %s</h2>\n",
		getStatusColor(event.Type),
		escapeHTML(event.MachineID),
		escapeHTML(titleCase(event.Type.Label())))
	body.WriteString("<p style=\"font-family: monospace;\">")
	body.WriteString(nl2br(escapeHTML(event.Message)))
	body.WriteString("</p>\n")
	if !event.Time.IsZero() {
		fmt.Fprintf(&body, "<p style=\"color: #9E9E9E; font-size: 12px;\">%s",
			escapeHTML(event.Time.Format("2006-01-02 15:04:05")))
		if event.RunID != "" {
			fmt.Fprintf(&body, " &middot; run %s", escapeHTML(event.RunID))
		}
		body.WriteString("</p>\n")
	}
	body.WriteString("</body>\n</html>\n")
	return body.String()
}

// BuildTelegramText builds "VM Id: <id> backup: <label>" followed by the
// details, shortened to fit a single Telegram message.
func BuildTelegramText(event *Event) string {
	header := fmt.Sprintf("VM Id: %s backup: %s", event.MachineID, event.Type.Label())
	details := strings.TrimSpace(event.Message)
	if details == "" {
		return header
	}
	if event.Type != EventStarted {
		details = utils.LastLines(details, 20)
	}
	return utils.Truncate(header+"\n\n"+details, telegramMaxText)
}

// titleCase builds a new Caser per call; Casers are not safe for concurrent use.
func titleCase(s string) string {
	return cases.Title(language.English, cases.NoLower).String(s)
}

// nl2br inserts <br> before every line break, keeping the break itself.
func nl2br(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "<br>\n")
}

func escapeHTML(value string) string {
	return html.EscapeString(value)
}

// getStatusColor returns the heading color for an event type
func getStatusColor(eventType EventType) string {
	switch eventType {
	case EventSuccess:
		return "#4CAF50" // Green
	case EventStarted, EventStoring:
		return "#2196F3" // Blue
	case EventFailure, EventStoringFailed:
		return "#F44336" // Red
	default:
		return "#9E9E9E" // Gray
	}
}

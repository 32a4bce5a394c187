// ABOUTME: Message content builders for bot replies
// ABOUTME: Plain text notices and goldmark-rendered markdown messages

package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix/event"
)

// Text builds a plain text message.
func Text(body string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    body,
	}
}

// Markdown builds a message whose formatted body is the HTML rendering of
// body. If rendering fails the plain body is still sent.
func Markdown(body string) *event.MessageEventContent {
	content := Text(body)

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(body), &html); err != nil {
		return content
	}

	content.Format = event.FormatHTML
	content.FormattedBody = strings.TrimSpace(html.String())
	return content
}

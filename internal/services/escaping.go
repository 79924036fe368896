package services

import (
	"fmt"
	"html"
)

// Escape makes user or catalog text safe for Telegram's HTML parse mode.
func Escape(text string) string {
	return html.EscapeString(text)
}

func FormatBold(text string) string {
	return fmt.Sprintf("<b>%s</b>", Escape(text))
}

func FormatItalic(text string) string {
	return fmt.Sprintf("<i>%s</i>", Escape(text))
}

func FormatCode(text string) string {
	return fmt.Sprintf("<code>%s</code>", Escape(text))
}

func FormatStrike(text string) string {
	return fmt.Sprintf("<s>%s</s>", Escape(text))
}

func FormatLink(text, url string) string {
	return fmt.Sprintf("<a href=\"%s\">%s</a>", Escape(url), Escape(text))
}

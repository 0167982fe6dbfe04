package core

import (
	"fmt"
	"strings"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
)

func notice(color, text string) string {
	return "\r\n" + color + "### " + text + " ###" + ansiReset + "\r\n"
}

func connectingNotice() string {
	return notice(ansiCyan, "connecting to execution server")
}

func pendingNotice() string {
	return notice(ansiGreen, "connection established, waiting for output")
}

func closedNotice() string {
	return notice(ansiYellow, "connection closed")
}

func errorNotice(err error) string {
	return notice(ansiRed, fmt.Sprintf("connection error: %s", oneLine(err.Error())))
}

func malformedNotice(err error) string {
	return notice(ansiRed, fmt.Sprintf("malformed frame: %s", oneLine(err.Error())))
}

func oneLine(text string) string {
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.ReplaceAll(text, "\n", " ")
}

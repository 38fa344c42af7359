package chat

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Command names recognized after the "/" prefix. Anything else, including
// unknown "/xxx" payloads, is routed as plain chat text.
const (
	cmdHelp    = "help"
	cmdList    = "list"
	cmdPrivate = "private"
	cmdStats   = "stats"
)

const helpReply = "[SERVER] Commands:\n" +
	"/help - Show this help message\n" +
	"/list - List all connected users\n" +
	"/private <username> <message> - Send a private message\n" +
	"/stats - Show server statistics\n"

// Router interprets each decoded payload from an identified session and
// turns it into zero or more outbound frames. It is safe for concurrent use:
// every connection worker routes its own messages, sharing the registry and
// stats.
type Router struct {
	registry *Registry
	stats    *Stats
	log      logrus.FieldLogger
}

// NewRouter wires a Router to its registry and stats.
func NewRouter(registry *Registry, stats *Stats, log logrus.FieldLogger) *Router {
	return &Router{registry: registry, stats: stats, log: log}
}

// Route dispatches one payload from sender. Protocol misuse (bad /private
// arity, unknown target) is reported back to the sender only and never
// closes the connection.
func (rt *Router) Route(sender *Session, payload string) {
	if name, ok := commandName(payload); ok {
		switch name {
		case cmdHelp:
			sender.Send(helpReply)
			rt.log.WithField("user", sender.Username()).Debug("help command")
		case cmdList:
			sender.Send(rt.listReply())
			rt.log.WithField("user", sender.Username()).Debug("list command")
		case cmdPrivate:
			rt.routePrivate(sender, payload)
		case cmdStats:
			sender.Send(rt.statsReply())
			rt.log.WithField("user", sender.Username()).Debug("stats command")
		}
		return
	}

	rt.stats.CountMessage()
	rt.log.WithFields(logrus.Fields{
		"user": sender.Username(),
	}).Info("chat message routed")
	rt.Broadcast(sender.Username()+": "+payload, sender)
}

// commandName extracts the recognized command keyword from a "/"-prefixed
// payload. Unrecognized keywords are not commands.
func commandName(payload string) (string, bool) {
	if !strings.HasPrefix(payload, "/") {
		return "", false
	}
	name, _, _ := strings.Cut(payload[1:], " ")
	switch name {
	case cmdHelp, cmdList, cmdPrivate, cmdStats:
		return name, true
	}
	return "", false
}

func (rt *Router) listReply() string {
	var b strings.Builder
	b.WriteString("[SERVER] Connected users:\n")
	for _, s := range rt.registry.Snapshot() {
		if !s.Identified() {
			continue
		}
		b.WriteString(s.Username())
		b.WriteByte('\n')
	}
	return b.String()
}

func (rt *Router) statsReply() string {
	var b strings.Builder
	b.WriteString("[SERVER STATS]\n")
	b.WriteString("Active users: ")
	b.WriteString(strconv.Itoa(rt.registry.Len()))
	b.WriteString("\nTotal messages: ")
	b.WriteString(strconv.FormatInt(rt.stats.Messages(), 10))
	b.WriteString("\nUptime: ")
	b.WriteString(FormatUptime(rt.stats.Uptime()))
	return b.String()
}

// routePrivate handles "/private <user> <text>". The payload splits into
// exactly three tokens on the first two spaces.
func (rt *Router) routePrivate(sender *Session, payload string) {
	parts := strings.SplitN(payload, " ", 3)
	if len(parts) < 3 {
		sender.Send("[SERVER] Invalid format. Use /private <username> <message>\n")
		return
	}
	targetName, text := parts[1], parts[2]

	target, ok := rt.registry.FindByUsername(targetName)
	if !ok {
		sender.Send("[SERVER] User not found.\n")
		return
	}
	target.Send("[PRIVATE] " + sender.Username() + ": " + text + "\n")
	sender.Send("[PRIVATE] To " + targetName + ": " + text + "\n")
	rt.log.WithFields(logrus.Fields{
		"from": sender.Username(),
		"to":   targetName,
	}).Info("private message delivered")
}

// Broadcast delivers text to every live session except sender. Delivery is
// over an immutable snapshot; a failure for one recipient is logged and
// never aborts the rest.
func (rt *Router) Broadcast(text string, sender *Session) {
	for _, s := range rt.registry.Snapshot() {
		if sender != nil && s.ID() == sender.ID() {
			continue
		}
		if !s.Send(text) {
			rt.log.WithFields(logrus.Fields{
				"session": s.ID(),
				"user":    s.Username(),
			}).Warn("broadcast delivery failed for recipient")
		}
	}
}

package botlib

import (
	"fmt"

	"github.com/aeolun/convosync/pkg/engine"
)

// Context is passed to message handlers and provides the common bot actions.
type Context struct {
	bot     *Bot
	message engine.Message
}

// Message returns the message that triggered this context.
func (c *Context) Message() engine.Message {
	return c.message
}

// Reply queues content for the conversation. Replies are sent once the
// handler returns.
func (c *Context) Reply(content string) {
	c.bot.outbox = append(c.bot.outbox, content)
}

// ConversationID returns the conversation the message arrived in.
func (c *Context) ConversationID() string {
	return c.message.ConversationID
}

// Author returns the best available name of the message author.
func (c *Context) Author() string {
	switch {
	case c.message.SenderName != "":
		return c.message.SenderName
	case c.message.SenderUsername != "":
		return c.message.SenderUsername
	default:
		return c.message.SenderID
	}
}

// Online returns the ids of participants currently online.
func (c *Context) Online() []string {
	return c.bot.engine.Online()
}

// BotName returns the bot's username.
func (c *Context) BotName() string {
	return c.bot.engine.Identity().Username
}

// Log logs a message using the bot's logger.
func (c *Context) Log(format string, args ...interface{}) {
	if c.bot.logger != nil {
		c.bot.logger.Printf(format, args...)
	}
}

func (c *Context) String() string {
	return fmt.Sprintf("Context{conversation=%s, message=%s, author=%s}",
		c.message.ConversationID, c.message.ID, c.Author())
}

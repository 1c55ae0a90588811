package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aeolun/convosync/pkg/botlib"
	"github.com/aeolun/convosync/pkg/engine"
)

// replier is the part of botlib.Context the commands use.
type replier interface {
	Reply(content string)
	Author() string
	Online() []string
}

type command struct {
	help string
	run  func(ctx replier, arg string)
}

var commands = map[string]command{
	"ping": {
		help: "check the bot is alive",
		run: func(ctx replier, arg string) {
			ctx.Reply("pong")
		},
	},
	"who": {
		help: "list who is online",
		run: func(ctx replier, arg string) {
			online := ctx.Online()
			if len(online) == 0 {
				ctx.Reply("Nobody else is online")
				return
			}
			ctx.Reply(fmt.Sprintf("Online (%d): %s", len(online), strings.Join(online, ", ")))
		},
	},
	"echo": {
		help: "repeat the rest of the message",
		run: func(ctx replier, arg string) {
			if arg == "" {
				return
			}
			ctx.Reply(arg)
		},
	},
}

// parseCommand splits "<prefix>name rest" into a lowercase name and the
// trimmed rest.
func parseCommand(prefix, content string) (name, arg string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	body := strings.TrimPrefix(content, prefix)
	name, arg, _ = strings.Cut(body, " ")
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(arg), true
}

func helpText(prefix string) string {
	names := make([]string, 0, len(commands)+1)
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:")
	for _, name := range names {
		fmt.Fprintf(&b, " %s%s (%s);", prefix, name, commands[name].help)
	}
	fmt.Fprintf(&b, " %shelp", prefix)
	return b.String()
}

func dispatchCommand(ctx replier, prefix, content string) {
	name, arg, ok := parseCommand(prefix, content)
	if !ok {
		return
	}
	if name == "help" {
		ctx.Reply(helpText(prefix))
		return
	}
	cmd, found := commands[name]
	if !found {
		ctx.Reply(fmt.Sprintf("Unknown command %s%s, try %shelp", prefix, name, prefix))
		return
	}
	cmd.run(ctx, arg)
}

func commandHandler(prefix string) botlib.MessageHandler {
	return func(ctx *botlib.Context, msg engine.Message) {
		ctx.Log("Message from %s: %s", ctx.Author(), msg.Content)
		dispatchCommand(ctx, prefix, msg.Content)
	}
}

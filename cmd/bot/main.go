// Command bot is a convosync bot that answers simple commands in one
// conversation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/aeolun/convosync/pkg/botlib"
	"github.com/aeolun/convosync/pkg/client"
	"github.com/aeolun/convosync/pkg/config"
	"github.com/aeolun/convosync/pkg/engine"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Bot error: %v", err)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	flagSet := pflag.NewFlagSet("bot", pflag.ContinueOnError)
	configPath := flagSet.String("config", config.DefaultPath, "path to config file")
	conversationID := flagSet.StringP("conversation", "c", "", "conversation id to watch (overrides client.conversation)")
	prefix := flagSet.String("prefix", "!", "command prefix")
	verbose := flagSet.BoolP("verbose", "v", false, "log engine events")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("conversation") {
		cfg.Client.Conversation = *conversationID
	}
	if cfg.Identity.Token != "" {
		info, err := client.CheckToken(cfg.Identity.Token, time.Now())
		if err != nil {
			return fmt.Errorf("identity.token: %w", err)
		}
		if cfg.Identity.UserID == "" {
			cfg.Identity.UserID = info.UserID
		}
		if cfg.Identity.Username == "" {
			cfg.Identity.Username = info.Username
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags)

	conn, err := client.NewConnection(cfg.ToConnectionOptions())
	if err != nil {
		return err
	}
	if *verbose {
		conn.SetLogger(logger)
	}
	defer conn.Close()
	if err := conn.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", conn.GetAddress(), err)
	}

	directory, err := client.NewDirectory(cfg.ToDirectoryOptions())
	if err != nil {
		return err
	}

	engOpts := cfg.ToEngineOptions()
	if *verbose {
		engOpts.Logger = logger
	}
	eng := engine.New(conn, directory, cfg.ToIdentity(), engOpts)

	bot := botlib.New(eng, conn, directory, botlib.Config{
		ConversationID: cfg.Client.Conversation,
		Logger:         logger,
	})
	bot.OnMessage(commandHandler(*prefix))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Starting bot...")
	log.Printf("  Server: %s", conn.GetAddress())
	log.Printf("  Username: %s", cfg.Identity.Username)
	log.Printf("  Conversation: %s", cfg.Client.Conversation)

	return bot.Run(ctx)
}

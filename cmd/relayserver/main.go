package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/lockbox-recovery-protocol/cmd/flags"
	"github.com/ruteri/lockbox-recovery-protocol/relay"
	"github.com/urfave/cli/v2"
)

var serverFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the relay API",
	},
	&cli.IntFlag{
		Name:  "mailbox-cap",
		Value: 128,
		Usage: "max queued messages per peer before senders are told to back off",
	},
	flags.MailboxTTLFlag,
	flags.LogServiceFlagFn("lockbox-relay"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "relayserver",
		Usage: "Store-and-forward relay for lockbox protocol messages",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			listenAddr := cCtx.String("listen-addr")

			mailboxes := relay.NewMailboxes(cCtx.Int("mailbox-cap"))
			handler := relay.NewHandler(mailboxes, logger)

			cfg := flags.ConfigureRelayServer(cCtx, logger, listenAddr)
			server, err := relay.New(cfg, handler, mailboxes)
			if err != nil {
				logger.Error("Failed to create relay server", "err", err)
				return err
			}

			logger.Info("Starting relay server", "listen_addr", listenAddr)
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Relay server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

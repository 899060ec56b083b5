// Command melq is the CLI entrypoint: host a hub, join one, or run a
// one-shot LAN discovery probe, per the host/join/discover subcommands
// named in the external-interfaces contract.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/melq/melq/internal/client"
	"github.com/melq/melq/internal/config"
	"github.com/melq/melq/internal/discovery"
	"github.com/melq/melq/internal/frame"
	"github.com/melq/melq/internal/hub"
	"github.com/melq/melq/internal/identity"
	"github.com/melq/melq/internal/transport"
	"github.com/melq/melq/internal/tunnel"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage error: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: melq host [--internet|--local-only] [--password p] [--tunnel auto|localtunnel|ngrok|serveo|manual] [--port n]")
		fmt.Fprintln(os.Stderr, "       melq join <connection-code>")
		fmt.Fprintln(os.Stderr, "       melq discover [--timeout 3s]")
		os.Exit(config.ExitError)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	var runErr error
	switch cfg.Mode {
	case config.ModeHost:
		runErr = runHost(cfg.Host, logger)
	case config.ModeJoin:
		runErr = runJoin(cfg.Join, logger)
	case config.ModeDiscover:
		runErr = runDiscover(cfg.Discover)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "melq: %v\n", runErr)
		os.Exit(config.ExitError)
	}
	os.Exit(config.ExitOK)
}

func runHost(cfg config.HostConfig, logger *zap.Logger) error {
	self, err := identity.New()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	h := hub.New(self, hub.Config{Password: cfg.Password}, logger)
	port, err := h.Listen(cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	code := fmt.Sprintf("melq://127.0.0.1:%d", port)
	if !cfg.LocalOnly {
		res, err := tunnel.Manual{}.Open(port, cfg.Tunnel, cfg.CustomDomain)
		if err != nil {
			logger.Warn("tunnel setup failed, falling back to local address", zap.Error(err))
		} else {
			code = res.ConnectionCode
		}
	}
	fmt.Printf("hub listening on port %d\n", port)
	fmt.Printf("connection code: %s\n", code)

	local := h.Local()
	go func() {
		for rec := range local.Messages() {
			fmt.Printf("[%s] %s: %s\n", rec.ChatID, rec.SenderAlias, rec.Text)
		}
	}()

	responder, err := discovery.Advertise(func() discovery.Advert {
		return discovery.Advert{
			NodeID:         string(self.ID),
			NetworkName:    "melq",
			Host:           "127.0.0.1",
			Port:           port,
			ConnectionCode: code,
			Timestamp:      time.Now().Unix(),
		}
	})
	if err != nil {
		logger.Warn("LAN discovery responder unavailable", zap.Error(err))
	} else {
		defer responder.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

func runJoin(cfg config.JoinConfig, logger *zap.Logger) error {
	url, err := transport.ParseConnectionCode(cfg.ConnectionCode)
	if err != nil {
		return fmt.Errorf("invalid connection code: %w", err)
	}

	self, err := identity.New()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}

	stdin := bufio.NewReader(os.Stdin)
	prompt := func(p string) (string, error) {
		fmt.Print(p)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	cb := client.Callbacks{
		OnChatAvailable: func(chatID, name, creator string) {
			fmt.Printf("\n[chat available] %s (%q, created by %s)\n", chatID, name, creator)
		},
		OnUserJoined: func(chatID, nodeID string) {
			fmt.Printf("\n[%s] %s joined\n", chatID, nodeID)
		},
		OnMessage: func(chatID string, rec frame.MessageRecord) {
			fmt.Printf("\n[%s] %s: %s\n", chatID, rec.NodeID, rec.Text)
		},
		OnAccessDenied: func(reason string) {
			fmt.Printf("\naccess denied: %s\n", reason)
		},
		OnClosed: func(normal bool, err error) {
			if !normal {
				fmt.Printf("\nconnection lost: %v\n", err)
			}
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Connect(ctx, url, self, prompt, logger, cb)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	fmt.Println("connected. commands: chats | create <name> | join <chat-id> | send <chat-id> <text> | quit")
	for {
		line, err := prompt("> ")
		if err != nil {
			return nil
		}
		fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "chats":
			chats, err := c.ListChats()
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			for _, ch := range chats {
				fmt.Printf("  %s  %s\n", ch.ChatID, ch.Name)
			}
		case "create":
			if len(fields) < 2 {
				fmt.Println("usage: create <name>")
				continue
			}
			if err := c.CreateChat(fields[1]); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "join":
			if len(fields) < 2 {
				fmt.Println("usage: join <chat-id>")
				continue
			}
			if err := c.JoinChat(fields[1]); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		case "send":
			if len(fields) < 3 {
				fmt.Println("usage: send <chat-id> <text>")
				continue
			}
			if err := c.SendMessage(fields[1], fields[2], time.Now().Unix()); err != nil {
				fmt.Printf("error: %v\n", err)
			}
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func runDiscover(cfg config.DiscoverConfig) error {
	results, err := discovery.Probe(cfg.Timeout)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	if len(results) == 0 {
		fmt.Fprintln(w, "no hubs found")
		return nil
	}
	for _, adv := range results {
		fmt.Fprintf(w, "%s  %s  %s\n", adv.NodeID, adv.NetworkName, adv.ConnectionCode)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"mime"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/talksync/talksync/pkg/chatclient"
	"github.com/talksync/talksync/pkg/event"
)

// printer renders relay events to the terminal, redrawing the prompt the way
// the incoming-message goroutine of a line-based client has to.
type printer struct {
	name string
}

func (p *printer) HandleState(s chatclient.State) {
	switch s {
	case chatclient.StateConnected:
		fmt.Printf("\r* connected, joined as %s\n> ", p.name)
	case chatclient.StateDisconnected:
		fmt.Print("\r* connection lost\n> ")
	case chatclient.StateOffline:
		fmt.Print("\r* no server reachable, offline mode: messages stay local\n> ")
	}
}

func (p *printer) HandleHistory(msgs []event.Message) {
	for _, m := range msgs {
		p.printMessage(m)
	}
}

func (p *printer) HandleMessage(msg event.Message) {
	p.printMessage(msg)
}

func (p *printer) printMessage(m event.Message) {
	if m.Image != "" {
		fmt.Printf("\r%s: [image, %d bytes] %s\n> ", m.Name, len(m.Image), m.Text)
		return
	}
	fmt.Printf("\r%s: %s\n> ", m.Name, m.Text)
}

func (p *printer) HandlePresence(name string, online []string, joined bool) {
	verb := "left"
	if joined {
		verb = "joined"
	}
	fmt.Printf("\r* %s %s (online: %s)\n> ", name, verb, strings.Join(online, ", "))
}

func (p *printer) HandleTyping(name string, typing []string, active bool) {
	if active {
		fmt.Printf("\r* %s is typing...\n> ", name)
	}
}

// imageDataURI loads a file and encodes it the way the browser client's
// upload form does.
func imageDataURI(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:3001", "chat relay address")
	name := flag.String("name", "", "display name")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *name == "" {
		log.Fatal().Msg("a display name is required (-name)")
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}

	client := chatclient.New(chatclient.Config{
		URL:  u.String(),
		Name: *name,
	}, &printer{name: *name})

	log.Info().Str("url", u.String()).Msg("connecting")
	state, err := client.Connect(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}
	log.Info().Stringer("state", state).Msg("session started")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			if text == "/quit" {
				return
			}

			if text == "/typing" {
				// Simulate composition activity; the debouncer emits the
				// stop signal after the quiet period.
				client.Keystroke()
				fmt.Print("> ")
				continue
			}

			if path, ok := strings.CutPrefix(text, "/image "); ok {
				uri, err := imageDataURI(strings.TrimSpace(path))
				if err != nil {
					log.Warn().Err(err).Msg("read image")
				} else if err := client.Send("", uri); err != nil {
					log.Warn().Err(err).Msg("send image")
				}
				fmt.Print("> ")
				continue
			}

			client.Keystroke()
			if err := client.Send(text, ""); err != nil {
				log.Warn().Err(err).Msg("send")
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Info().Msg("interrupt")
	}
	if err := client.Close(); err != nil {
		log.Debug().Err(err).Msg("close")
	}
}

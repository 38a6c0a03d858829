package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/ZentaChain/palladium/pkg/datauri"
	"github.com/ZentaChain/palladium/pkg/network"
	"github.com/ZentaChain/palladium/pkg/protocol"
)

// session is the part of *network.Client the console drives.
type session interface {
	Identity() *protocol.Identity
	Users() []*protocol.Identity
	Messages() []network.Message
	Message(ctx context.Context, recipient *protocol.Identity, payload *datauri.DataURI) (*protocol.Packet, error)
	SetNick(ctx context.Context, nick string) error
	SubscribeRoster(buffer int) *network.Subscription[network.RosterEvent]
	SubscribeMessages(buffer int) *network.Subscription[network.Message]
	SubscribeAcks(buffer int) *network.Subscription[network.Acknowledgement]
}

const consoleHelp = `Commands:
  /users                  list logged in users
  /msg <user> <text>      send a text message
  /file <user> <path>     send a file
  /history                list received messages
  /save <n> <dir>         write attachment n from /history into dir
  /nick <name>            change nickname
  /quit                   log out and exit
<user> is an account, a nickname or a full address.`

type console struct {
	session session
	mu      sync.Mutex
	out     io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

// runConsole executes commands from in until /quit, EOF or ctx is done. It
// reports whether the user asked to quit.
func runConsole(ctx context.Context, s session, in io.Reader, out io.Writer) bool {
	c := &console{session: s, out: out}

	watchCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.watch(watchCtx)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return false
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !c.execute(ctx, line) {
			return true
		}
	}
	return false
}

// watch prints session events as they arrive.
func (c *console) watch(ctx context.Context) {
	roster := c.session.SubscribeRoster(16)
	defer roster.Unsubscribe()
	inbox := c.session.SubscribeMessages(16)
	defer inbox.Unsubscribe()
	acks := c.session.SubscribeAcks(16)
	defer acks.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-roster.C:
			if !ok {
				return
			}
			switch e.Change {
			case network.UserAdded:
				c.printf("➕ %s joined", e.User.DisplayName())
			case network.UserRemoved:
				c.printf("➖ %s left", e.User.DisplayName())
			case network.UserRenamed:
				c.printf("✏️  %s is now %s", e.Previous.DisplayName(), e.User.DisplayName())
			}
		case m, ok := <-inbox.C:
			if !ok {
				return
			}
			c.printf("💬 %s", describeMessage(m))
		case a, ok := <-acks.C:
			if !ok {
				return
			}
			c.printf("✓ delivered to %s", a.From.DisplayName())
		}
	}
}

// execute runs one command line and reports whether the console should keep
// reading.
func (c *console) execute(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/help":
		c.printf("%s", consoleHelp)
	case "/users":
		for _, u := range c.session.Users() {
			c.printf("  %s (%s) %s", u.DisplayName(), u.Account(), u.Key().Fingerprint())
		}
	case "/msg":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || strings.TrimSpace(text) == "" {
			c.printf("usage: /msg <user> <text>")
			return true
		}
		c.send(ctx, to, datauri.Text(strings.TrimSpace(text)))
	case "/file":
		to, path, ok := strings.Cut(rest, " ")
		if !ok {
			c.printf("usage: /file <user> <path>")
			return true
		}
		payload, err := datauri.LoadFile(strings.TrimSpace(path))
		if err != nil {
			c.printf("❌ %v", err)
			return true
		}
		c.send(ctx, to, payload)
	case "/history":
		for i, m := range c.session.Messages() {
			c.printf("  %d. %s", i+1, describeMessage(m))
		}
	case "/save":
		c.save(rest)
	case "/nick":
		if err := c.session.SetNick(ctx, rest); err != nil {
			c.printf("❌ %v", err)
		}
	case "/quit":
		return false
	default:
		c.printf("unknown command %q, try /help", cmd)
	}
	return true
}

func (c *console) send(ctx context.Context, to string, payload *datauri.DataURI) {
	recipient, err := protocol.Resolve(c.session.Users(), to)
	if err != nil {
		c.printf("❌ %v", err)
		return
	}
	if _, err := c.session.Message(ctx, recipient, payload); err != nil {
		c.printf("❌ %v", err)
	}
}

func (c *console) save(args string) {
	index, dir, ok := strings.Cut(args, " ")
	n, err := strconv.Atoi(index)
	if !ok || err != nil {
		c.printf("usage: /save <n> <dir>")
		return
	}
	messages := c.session.Messages()
	if n < 1 || n > len(messages) {
		c.printf("❌ no message %d", n)
		return
	}
	payload := messages[n-1].Payload
	if payload == nil {
		c.printf("❌ message %d has no payload", n)
		return
	}
	if _, err := payload.WriteFile(strings.TrimSpace(dir)); err != nil {
		c.printf("❌ %v", err)
		return
	}
	name, _ := payload.Metadata.Get(datauri.FilenameKey)
	c.printf("✓ saved %s", name)
}

func describeMessage(m network.Message) string {
	from := m.From.DisplayName()
	if m.Payload == nil {
		return from + ": <empty>"
	}
	if text, ok := m.Payload.Text(); ok {
		return from + ": " + text
	}
	if name, ok := m.Payload.Metadata.Get(datauri.FilenameKey); ok {
		b, _ := m.Payload.Bytes()
		return fmt.Sprintf("%s sent %s (%d bytes)", from, name, len(b))
	}
	return fmt.Sprintf("%s sent %s", from, m.Payload.Type)
}

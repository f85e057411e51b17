// Command roomwatch follows a planning room from the terminal.
//
//	roomwatch -addr http://localhost:8080 -invite K7MWQ2 -anon me -nick Mina
//
// Lines typed on stdin are commands: "say <text>", "like <n>", "dislike <n>",
// "show" and "quit".
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/websocket"
	"tripvote/internal/util"
	"tripvote/pkg/hub"
)

func main() {
	addr := flag.String("addr", "http://localhost:8080", "planner base URL")
	roomID := flag.String("room", "", "room id to follow")
	invite := flag.String("invite", "", "invite code to join with")
	token := flag.String("token", os.Getenv("TRIPVOTE_TOKEN"), "bearer token (defaults to $TRIPVOTE_TOKEN)")
	anonID := flag.String("anon", "", "anonymous identity when no token is given")
	nickname := flag.String("nick", "", "nickname shown to the room")
	interval := flag.Duration("reconcile", 30*time.Second, "snapshot reconciliation interval")
	verbose := flag.Bool("v", false, "print typing and reconciliation events")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	util.InitLogger(*logLevel)
	if *roomID == "" && *invite == "" {
		fmt.Fprintln(os.Stderr, "usage: roomwatch (-room <id> | -invite <code>) [-token <jwt> | -anon <id>]")
		os.Exit(2)
	}
	if *token == "" && *anonID == "" {
		fmt.Fprintln(os.Stderr, "roomwatch: -token or -anon is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, newClient(*addr, *token, *anonID, *nickname), *roomID, *invite, *interval, *verbose, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "roomwatch: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *client, roomID, invite string, interval time.Duration, verbose bool, in io.Reader) error {
	var err error
	if invite != "" {
		if roomID, err = c.joinInvite(ctx, invite); err != nil {
			return fmt.Errorf("join with invite: %w", err)
		}
	} else if err := c.join(ctx, roomID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	snap, err := c.snapshot(ctx, roomID)
	if err != nil {
		return fmt.Errorf("load room: %w", err)
	}
	v := newView(os.Stdout, verbose)
	follower := hub.NewFollower(snap.Viewer.ID, v.apply, v.reset).WithEchoKey(echoKey)
	follower.Reconcile(snap)
	v.print()

	conn, err := c.dial(roomID)
	if err != nil {
		return fmt.Errorf("connect room socket: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go follower.Run(ctx, interval, func(ctx context.Context) (snapshot, error) {
		return c.snapshot(ctx, roomID)
	})
	go readCommands(ctx, cancel, c, roomID, v, follower, in)
	go keepAlive(ctx, conn)

	return readEvents(ctx, conn, follower, v)
}

// readEvents feeds socket frames into the follower until the socket closes.
func readEvents(ctx context.Context, conn *websocket.Conn, follower *hub.Follower[snapshot], v *view) error {
	decoder := json.NewDecoder(conn)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || v.isClosed() {
				return nil
			}
			return fmt.Errorf("read room socket: %w", err)
		}
		var head struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			continue
		}
		switch head.Type {
		case "welcome", "pong":
			continue
		case "error":
			fmt.Fprintf(os.Stderr, "room socket: %s\n", head.Error)
			continue
		}
		var e hub.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		follower.Handle(e)
	}
}

func keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := websocket.JSON.Send(conn, map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

func readCommands(ctx context.Context, cancel context.CancelFunc, c *client, roomID string, v *view, follower *hub.Follower[snapshot], in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		verb, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)
		switch verb {
		case "":
		case "quit", "exit":
			cancel()
			return
		case "show":
			v.print()
		case "say":
			if arg == "" {
				continue
			}
			follower.ApplyLocal(hub.EventChatPosted, arg, func() {
				fmt.Fprintf(os.Stdout, "[team] you: %s\n", arg)
			})
			if err := c.say(ctx, roomID, arg); err != nil {
				fmt.Fprintf(os.Stderr, "say: %v\n", err)
			}
		case "like", "dislike":
			n, err := strconv.Atoi(arg)
			route, ok := v.routeAt(n)
			if err != nil || !ok {
				fmt.Fprintf(os.Stderr, "%s: no route %q\n", verb, arg)
				continue
			}
			follower.ApplyLocal(hub.EventVoteChanged, route.ID, nil)
			res, err := c.vote(ctx, roomID, route.ID, verb)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", verb, err)
				continue
			}
			v.setTally(tallyOf(res))
			fmt.Fprintf(os.Stdout, "* you voted on %s: %d like / %d dislike\n", route.Title, res.Likes, res.Dislikes)
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		}
	}
}

// echoKey matches a delivered event with the local mutation that caused it.
func echoKey(e hub.Event) string {
	switch e.Type {
	case hub.EventChatPosted:
		var p hub.ChatPayload
		if e.Decode(&p) == nil {
			return p.Message.Content
		}
	case hub.EventVoteChanged:
		var p hub.VotePayload
		if e.Decode(&p) == nil {
			return p.SubjectID
		}
	}
	return ""
}

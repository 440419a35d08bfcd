// livechat - command line client for the livechat relay
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/arinzecomie/livechat-relay/clients/go/livechat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("LIVECHAT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client := livechat.NewClient(baseURL, os.Getenv("LIVECHAT_TOKEN"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		if resp != nil {
			printJSON(resp)
		}
		exitOnError(err)

	case "history":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: livechat history <site_id> <session_id> [limit] [before]")
			os.Exit(1)
		}
		limit, before := 20, int64(0)
		if len(os.Args) > 4 {
			limit, _ = strconv.Atoi(os.Args[4])
		}
		if len(os.Args) > 5 {
			before, _ = strconv.ParseInt(os.Args[5], 10, 64)
		}
		page, err := client.History(ctx, os.Args[2], os.Args[3], limit, before)
		exitOnError(err)
		for _, msg := range page.Messages {
			printMessage(msg)
		}
		if page.HasMore && len(page.Messages) > 0 {
			fmt.Printf("-- older messages: before=%d\n", page.Messages[0].Cursor())
		}

	case "chat":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: livechat chat <site_id> [session_id]")
			os.Exit(1)
		}
		sessionID := ""
		if len(os.Args) > 3 {
			sessionID = os.Args[3]
		}
		conn, joined, err := client.Join(ctx, os.Args[2], sessionID)
		exitOnError(err)
		defer conn.Close()
		if joined.Session != nil {
			fmt.Printf("joined session %s (%s)\n", joined.Session.ID, joined.Session.State)
		}

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if line == "/close" {
					exitOnError(conn.CloseSession())
					continue
				}
				exitOnError(conn.Send(line))
			}
			conn.Close()
		}()
		printEvents(ctx, conn)

	case "watch":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: livechat watch <site_id>")
			os.Exit(1)
		}
		conn, roster, err := client.WatchSite(ctx, os.Args[2])
		exitOnError(err)
		defer conn.Close()
		for _, s := range roster.Sessions {
			fmt.Printf("  %s  %s  visitor=%s  participants=%d\n", s.ID, s.State, s.VisitorID, s.Participants)
		}
		printEvents(ctx, conn)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func printEvents(ctx context.Context, conn *livechat.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			if err := conn.Err(); err != nil {
				fmt.Fprintln(os.Stderr, "connection closed:", err)
			}
			return
		case ev := <-conn.Events():
			switch ev.Type {
			case livechat.EventNewMessage:
				if ev.Message != nil {
					printMessage(*ev.Message)
				}
			case livechat.EventHistory:
				for _, msg := range ev.Messages {
					printMessage(msg)
				}
			case livechat.EventParticipantJoined, livechat.EventParticipantLeft:
				who := ev.ParticipantID
				if ev.Participant != nil {
					who = ev.Participant.Identity
				}
				fmt.Printf("* %s %s\n", who, strings.TrimPrefix(ev.Type, "participant_"))
			case livechat.EventSessionOpened:
				fmt.Printf("* session %s opened\n", ev.SessionID)
			case livechat.EventSessionClosed:
				fmt.Printf("* session %s closed (%s)\n", ev.SessionID, ev.Reason)
			case livechat.EventError:
				fmt.Fprintln(os.Stderr, "Error:", ev.Err())
			}
		}
	}
}

func printMessage(msg livechat.Message) {
	ts := msg.CreatedAt.Local().Format(time.DateTime)
	from := msg.SenderName
	if from == "" {
		from = msg.Sender
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, msg.Text)
}

func usage() {
	fmt.Println(`livechat - live chat relay client

Usage: livechat <command> [options]

Commands:
  chat <site> [session]                Join a session and chat from stdin (/close ends it)
  watch <site>                         Follow a site's session roster (admin token)
  history <site> <session> [n] [before] Page a session's history (admin token)
  health                               Check server health

Environment:
  LIVECHAT_URL    Server URL (default: http://localhost:8080)
  LIVECHAT_TOKEN  Credential minted by cmd/token`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

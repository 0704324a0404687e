package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/duo-chat/chatclient"
)

var rootCmd = &cobra.Command{
	Use:   "duochat",
	Short: "Terminal client for the duo-chat server",
	RunE:  runClient,
}

var flagServer string

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServer, "server", envOr("DUOCHAT_SERVER", "http://127.0.0.1:8095"), "server base URL")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	c, err := chatclient.New(flagServer)
	if err != nil {
		return err
	}

	c.OnConversations = printRows
	c.OnBubble = func(b chatclient.Bubble) { printBubble(b) }
	c.OnChannelClosed = func(err error) {
		fmt.Println("* connection lost; /logout and /login to reconnect")
	}

	fmt.Printf("duo-chat @ %s\n", flagServer)
	fmt.Println("commands: /register u p | /login u p | /friends | /open n | /add u | /remove n | /clear | /users | /toggle id | /deluser id | /logout | /quit")

	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		dispatch(c, line)
	}

	if c.State() == chatclient.LoggedIn {
		ctx, cancel := opCtx()
		defer cancel()
		_ = c.Logout(ctx)
	}
	return sc.Err()
}

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func dispatch(c *chatclient.Client, line string) {
	ctx, cancel := opCtx()
	defer cancel()

	if !strings.HasPrefix(line, "/") {
		if !c.SendMessage(line) {
			fmt.Println("* nothing sent: log in and /open a conversation first")
		}
		return
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/register":
		if len(fields) != 3 {
			fmt.Println("usage: /register <username> <password>")
			return
		}
		if err := c.Register(ctx, fields[1], fields[2], fields[2]); err != nil {
			fmt.Println("!", err)
			return
		}
		fmt.Println("* registered; now /login")
	case "/login":
		if len(fields) != 3 {
			fmt.Println("usage: /login <username> <password>")
			return
		}
		if err := c.Login(ctx, fields[1], fields[2]); err != nil {
			fmt.Println("!", err)
			return
		}
		sess := c.Session()
		fmt.Printf("* logged in as %s (id %d)\n", sess.Username, sess.UserID)
		if _, err := c.ReloadConversations(ctx); err != nil {
			fmt.Println("!", err)
		}
	case "/logout":
		if err := c.Logout(ctx); err != nil {
			fmt.Println("!", err)
			return
		}
		fmt.Println("* logged out")
	case "/friends":
		if _, err := c.ReloadConversations(ctx); err != nil {
			fmt.Println("!", err)
		}
	case "/open":
		openConversation(ctx, c, fields)
	case "/add":
		if len(fields) != 2 {
			fmt.Println("usage: /add <username>")
			return
		}
		name, err := c.AddFriend(ctx, fields[1])
		if err != nil {
			fmt.Println("!", err)
			return
		}
		fmt.Printf("* added %s\n", name)
		if _, err := c.ReloadConversations(ctx); err != nil {
			fmt.Println("!", err)
		}
	case "/remove":
		removeFriend(ctx, c, fields)
	case "/clear":
		if err := c.ClearHistory(ctx); err != nil {
			fmt.Println("!", err)
			return
		}
		fmt.Println("* history cleared")
	case "/users":
		users, err := c.ListUsers(ctx)
		if err != nil {
			fmt.Println("!", err)
			return
		}
		for _, u := range users {
			marker := " "
			if u.IsAdmin {
				marker = "*"
			}
			fmt.Printf("%s %4d  %s\n", marker, u.ID, u.Username)
		}
	case "/toggle":
		if len(fields) != 2 {
			fmt.Println("usage: /toggle <user-id>")
			return
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("! invalid user id")
			return
		}
		isAdmin, err := c.ToggleAdmin(ctx, id)
		if err != nil {
			fmt.Println("!", err)
			return
		}
		fmt.Printf("* user %d admin=%v\n", id, isAdmin)
	case "/deluser":
		if len(fields) != 2 {
			fmt.Println("usage: /deluser <user-id>")
			return
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("! invalid user id")
			return
		}
		if err := c.DeleteUser(ctx, id); err != nil {
			fmt.Println("!", err)
			return
		}
		fmt.Printf("* user %d deleted\n", id)
	default:
		fmt.Println("* unknown command:", fields[0])
	}
}

// openConversation selects a row by its display number and prints the
// fetched history.
func openConversation(ctx context.Context, c *chatclient.Client, fields []string) {
	if len(fields) != 2 {
		fmt.Println("usage: /open <row-number>")
		return
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Println("! invalid row number")
		return
	}
	sums := c.Summaries()
	if n < 1 || n > len(sums) {
		fmt.Println("! no such row; run /friends first")
		return
	}
	s := sums[n-1]
	bubbles, err := c.SelectConversation(ctx, s.ConversationID, s.ReceiverID, s.ReceiverName)
	if err != nil {
		fmt.Println("!", err)
		return
	}
	fmt.Printf("--- %s ---\n", s.ReceiverName)
	for _, b := range bubbles {
		printBubble(b)
	}
}

func removeFriend(ctx context.Context, c *chatclient.Client, fields []string) {
	if len(fields) != 2 {
		fmt.Println("usage: /remove <row-number>")
		return
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		fmt.Println("! invalid row number")
		return
	}
	sums := c.Summaries()
	if n < 1 || n > len(sums) {
		fmt.Println("! no such row; run /friends first")
		return
	}
	if err := c.RemoveFriend(ctx, sums[n-1].ReceiverID); err != nil {
		fmt.Println("!", err)
		return
	}
	fmt.Printf("* removed %s\n", sums[n-1].ReceiverName)
	if _, err := c.ReloadConversations(ctx); err != nil {
		fmt.Println("!", err)
	}
}

func printRows(rows []chatclient.ConversationRow) {
	if len(rows) == 0 {
		fmt.Println("(no conversations; /add someone)")
		return
	}
	for i, row := range rows {
		marker := "  "
		if row.Active {
			marker = "> "
		}
		unread := ""
		if row.Unread > 0 {
			unread = fmt.Sprintf(" [%d]", row.Unread)
		}
		fmt.Printf("%s%2d. %s%s | %s\n", marker, i+1, row.Peer, unread, row.Preview)
	}
}

func printBubble(b chatclient.Bubble) {
	who := "them"
	if b.Mine {
		who = "me"
	}
	text := b.Text
	if b.Kind != "text" {
		text = "<" + b.Kind + "> " + text
	}
	fmt.Printf("[%s] %s: %s\n", b.At.Local().Format("15:04"), who, text)
}

// parleyctl inspects and manipulates a profile's message store without
// the TUI: listing chats and users, searching, sending and seeding.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dfalcao/parley/internal/config"
	"github.com/dfalcao/parley/internal/lock"
	"github.com/dfalcao/parley/internal/model"
	"github.com/dfalcao/parley/internal/profile"
	"github.com/dfalcao/parley/internal/repo"
	"github.com/dfalcao/parley/internal/store"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	chatFlag := flag.String("chat", "", "restrict search to one chat id")
	mediaFlag := flag.String("media", "", "path of a file to attach to send")
	asFlag := flag.String("as", "", "user id to act as (overrides config current_user)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if err := profile.EnsureDir(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	lk, err := lock.Acquire(profile.Dir(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(profile.DBPath(profileName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	repository := repo.New(db, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "seed":
		cmdSeed(db)
	case "chats":
		cmdChats(ctx, repository, *asFlag, *jsonFlag)
	case "users":
		cmdUsers(ctx, repository, *jsonFlag)
	case "search":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: parleyctl search <query>")
			os.Exit(1)
		}
		cmdSearch(db, args[1], *chatFlag, *jsonFlag)
	case "send":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: parleyctl send <chat-id> [text]")
			os.Exit(1)
		}
		text := ""
		if len(args) > 2 {
			text = args[2]
		}
		cmdSend(ctx, repository, args[1], text, *mediaFlag, *asFlag, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: parleyctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  seed                     Seed demo users and chats into an empty store")
	fmt.Fprintln(os.Stderr, "  chats                    List chats")
	fmt.Fprintln(os.Stderr, "  users                    List users")
	fmt.Fprintln(os.Stderr, "  search <query> [--chat]  Search message text")
	fmt.Fprintln(os.Stderr, "  send <chat-id> [text] [--media <path>] [--as <user-id>]")
	fmt.Fprintln(os.Stderr, "                           Send a message")
}

func cmdSeed(db *store.DB) {
	seeded, err := db.Seeded()
	if err != nil {
		fatal(err)
	}
	if seeded {
		fmt.Println("store already has data, nothing to do")
		return
	}
	if err := db.SeedDemo(); err != nil {
		fatal(err)
	}
	fmt.Println("demo data seeded")
}

func cmdChats(ctx context.Context, repository *repo.Repository, as string, jsonOut bool) {
	me, err := resolveUser(ctx, repository, as)
	if err != nil {
		fatal(err)
	}
	chats, err := repository.LoadChats(ctx, me)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(chats)
		return
	}
	for _, c := range chats {
		last := ""
		when := ""
		if m := c.LastMessage(); m != nil {
			last = m.Text
			if last == "" && m.Media != nil {
				last = fmt.Sprintf("(%s)", m.Media.Kind)
			}
			when = time.UnixMilli(m.Timestamp).Format(time.RFC3339)
		}
		fmt.Printf("%s  %-20s  %-40.40s  %s\n", c.ID, c.DisplayName(me), last, when)
	}
}

func cmdUsers(ctx context.Context, repository *repo.Repository, jsonOut bool) {
	users, err := repository.ListUsers(ctx)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(users)
		return
	}
	for _, u := range users {
		fmt.Printf("%s  %s\n", u.ID, u.Name)
	}
}

func cmdSearch(db *store.DB, query, chatID string, jsonOut bool) {
	msgs, err := db.SearchMessages(query, chatID, 50)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		fmt.Printf("%s  %s  %-10s  %s\n",
			time.UnixMilli(m.Timestamp).Format(time.RFC3339), m.ChatID, m.SenderID, m.Text)
	}
}

func cmdSend(ctx context.Context, repository *repo.Repository, chatID, text, mediaPath, as string, jsonOut bool) {
	me, err := resolveUser(ctx, repository, as)
	if err != nil {
		fatal(err)
	}

	var media *model.Media
	if mediaPath != "" {
		info, err := os.Stat(mediaPath)
		if err != nil {
			fatal(fmt.Errorf("media: %w", err))
		}
		media = &model.Media{
			Kind:      model.MediaFile,
			URI:       mediaPath,
			Name:      info.Name(),
			SizeBytes: info.Size(),
		}
	}

	msg, err := repository.SendMessage(ctx, chatID, text, me, media)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msg)
		return
	}
	fmt.Printf("sent %s\n", msg.ID)
}

// resolveUser picks the acting user: --as flag, then config, then the
// lowest user id in the store.
func resolveUser(ctx context.Context, repository *repo.Repository, as string) (string, error) {
	if as != "" {
		return as, nil
	}
	if cfg, err := config.Load(profile.ConfigPath()); err == nil && cfg.CurrentUser != "" {
		return cfg.CurrentUser, nil
	}
	users, err := repository.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("no users in store; run 'parleyctl seed' first")
	}
	me := users[0].ID
	for _, u := range users[1:] {
		if u.ID < me {
			me = u.ID
		}
	}
	return me, nil
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

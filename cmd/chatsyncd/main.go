package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/terracrypt/chatsync/internal/daemon"
	"github.com/terracrypt/chatsync/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "default", "profile name")
	userFlag := flag.String("user", "", "account user id (defaults to $CHATSYNC_USER_ID)")
	flag.Parse()

	if err := profile.ValidateName(*profileFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	token := os.Getenv("CHATSYNC_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "error: CHATSYNC_TOKEN is not set")
		os.Exit(1)
	}
	userID := *userFlag
	if userID == "" {
		userID = os.Getenv("CHATSYNC_USER_ID")
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile: *profileFlag,
			Token:   token,
			UserID:  userID,
		}),
	)

	app.Run()
}

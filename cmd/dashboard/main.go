package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rovshanmuradov/hedge-bot/internal/dashboard"
)

func main() {
	addr := flag.String("api", "http://127.0.0.1:8080", "Hedge bot API base URL")
	token := flag.String("token", os.Getenv("HEDGEBOT_HTTP_TOKEN"), "API bearer token")
	refresh := flag.Duration("refresh", 2*time.Second, "Polling interval")
	flag.Parse()

	client := dashboard.NewClient(*addr, *token, 5*time.Second)
	program := tea.NewProgram(
		dashboard.New(client, *refresh),
		tea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "dashboard failed: %v\n", err)
		os.Exit(1)
	}
}

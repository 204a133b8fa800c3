package main

// Sends one sample approval notification through Lark so credentials and
// bot permissions can be checked without running the workflow.
//
// Usage: test-notification [-config configs/config.yaml] <recipient email>

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/config"
	infraLark "github.com/garyjia/onboarding-workflow/internal/infrastructure/external/lark"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	lookup := flag.Bool("lookup", true, "also resolve the recipient and their manager in the directory")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: test-notification [-config path] <recipient email>")
		os.Exit(2)
	}
	recipient := flag.Arg(0)

	if _, err := os.Stat(*configPath); err != nil {
		*configPath = ""
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
		log.Fatal("lark.app_id and lark.app_secret are required")
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	client := infraLark.NewSDKClient(infraLark.Config{
		AppID:     cfg.Lark.AppID,
		AppSecret: cfg.Lark.AppSecret,
		BaseURL:   cfg.Lark.BaseURL,
		Timeout:   cfg.Lark.APITimeout,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *lookup {
		directory := infraLark.NewDirectory(client, logger)
		person, err := directory.LookupByEmail(ctx, recipient)
		switch {
		case err != nil:
			fmt.Printf("✗ Directory lookup failed: %v\n", err)
		case person == nil:
			fmt.Printf("✗ %s is not in the directory\n", recipient)
		default:
			fmt.Printf("✓ Found %s (%s)\n", person.Name, person.Email)
			if manager, err := directory.LookupManager(ctx, recipient); err == nil && manager != nil {
				fmt.Printf("✓ Manager: %s (%s)\n", manager.Name, manager.Email)
			}
		}
	}

	base := cfg.App.BaseURL + "/api/approvals/handle?token=test"
	msg := &port.Notification{
		Recipient: recipient,
		Subject:   "[Test] Approval required",
		Body:      "This is a test notification from the onboarding workflow.\nThe links below do not act on any request.",
		Links: []port.Link{
			{Label: "Approve", URL: base + "&action=Approve"},
			{Label: "Reject", URL: base + "&action=Reject"},
		},
	}

	mailer := infraLark.NewMailer(client, cfg.Notification.Locale, logger)
	if err := mailer.Notify(ctx, msg); err != nil {
		log.Fatalf("✗ Send failed: %v", err)
	}
	fmt.Printf("✓ Test notification sent to %s\n", recipient)
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/formecho/formecho/internal/config"
	"github.com/formecho/formecho/internal/email"
	"github.com/formecho/formecho/internal/extract"
	"github.com/formecho/formecho/internal/history"
	"github.com/formecho/formecho/internal/inbox"
	"github.com/formecho/formecho/internal/ledger"
	"github.com/formecho/formecho/internal/pipeline"
	"github.com/formecho/formecho/internal/resolve"
	"github.com/formecho/formecho/internal/respond"
	"github.com/formecho/formecho/internal/web"
)

var (
	cfgFile string
	dryRun  bool
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
}

func main() {
	// Credentials may live in a .env next to the binary
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "formecho",
		Short: "formecho - AI auto-replies for contact form submissions",
		Long: `formecho watches a mailbox for contact-form notifications relayed by a
form service, recovers the visitor's real address and message from the
notification, and replies to each submission exactly once with a
personalized, AI-generated response.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.formecho/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process pending form submissions once",
		Long:  "Fetch unseen relay notifications, generate replies, and send them. Safe to run from cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch()
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate replies but do not send or record anything")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run continuously, replying as new submissions arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show reply statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildPipeline wires the batch pipeline from configuration. The returned
// cleanup closes the history store.
func buildPipeline(cfg *config.Config, log zerolog.Logger) (*pipeline.Pipeline, func(), error) {
	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		return nil, nil, err
	}

	generator, err := respond.NewGenerator(
		respond.NewClient(respond.ClientConfig{
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			MaxTokens:   cfg.AI.MaxTokens,
			Temperature: cfg.AI.Temperature,
		}),
		respond.Identity{
			CompanyName: cfg.Company.Name,
			Description: cfg.Company.Description,
			TeamName:    cfg.Company.TeamName,
			Tone:        cfg.AI.Tone,
		},
		respond.RetryPolicy{
			MaxAttempts: cfg.AI.MaxAttempts,
			BaseDelay:   time.Duration(cfg.AI.RetryBaseSec) * time.Second,
			Sleep:       time.Sleep,
		},
		log,
	)
	if err != nil {
		return nil, nil, err
	}

	hist, err := history.NewStore(cfg.Storage.HistoryPath)
	if err != nil {
		return nil, nil, err
	}

	p := pipeline.New(
		inbox.NewMonitor(cfg.Inbox, cfg.Relay.Identifier, log),
		extract.New(cfg.Relay.Identifier),
		resolve.New(cfg.Relay.Identifier),
		ledger.Open(cfg.Storage.LedgerPath, log),
		generator,
		sender,
		hist,
		pipeline.Options{
			From:    cfg.Email.From,
			Subject: cfg.Relay.ReplySubject,
			DryRun:  dryRun,
		},
		log,
	)
	return p, func() { hist.Close() }, nil
}

func runBatch() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	p, cleanup, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	summary, err := p.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %d, replied %d, skipped %d, failed %d\n",
		summary.Fetched, summary.Replied, summary.Skipped, summary.Failed)
	return nil
}

func runWatch() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger()

	p, cleanup, err := buildPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info().Msg("shutting down")
		cancel()
	}()

	// Clear any backlog before idling
	if _, err := p.Run(ctx); err != nil {
		return err
	}

	// A dedicated connection idles for updates; each wakeup runs a
	// normal batch on its own connection
	watcher := inbox.NewMonitor(cfg.Inbox, cfg.Relay.Identifier, log)
	if err := watcher.Connect(ctx); err != nil {
		return err
	}
	defer watcher.Disconnect()

	err = watcher.Watch(ctx, func() {
		if _, err := p.Run(ctx); err != nil {
			log.Error().Err(err).Msg("batch run failed")
		}
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runStatus() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	log := newLogger()

	led := ledger.Open(cfg.Storage.LedgerPath, log)

	hist, err := history.NewStore(cfg.Storage.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	stats, err := hist.GetStats()
	if err != nil {
		return err
	}

	fmt.Printf("Processed submissions: %d\n", led.Len())
	fmt.Printf("Replies sent:          %d (of which %d fallback)\n", stats.Sent, stats.Fallbacks)
	fmt.Printf("Dispatch failures:     %d\n", stats.Failed)
	fmt.Printf("Skipped (no sender):   %d\n", stats.Skipped)

	recent, err := hist.GetRecent(10)
	if err != nil {
		return err
	}
	if len(recent) > 0 {
		fmt.Println("\nRecent activity:")
		for _, r := range recent {
			to := r.VisitorEmail
			if to == "" {
				to = "(unresolved)"
			}
			fmt.Printf("  %-8s %-30s %s\n", r.Status, to, r.CreatedAt.Format("2006-01-02 15:04"))
		}
	}
	return nil
}

func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	log := newLogger()

	led := ledger.Open(cfg.Storage.LedgerPath, log)

	hist, err := history.NewStore(cfg.Storage.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()

	return web.NewServer(cfg.Web.Port, hist, led, log).Start()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)
	prompt := func(label, def string) string {
		if def != "" {
			fmt.Printf("%s [%s]: ", label, def)
		} else {
			fmt.Printf("%s: ", label)
		}
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			return def
		}
		return line
	}

	fmt.Println("formecho setup")
	fmt.Println("==============")

	cfg := &config.Config{}
	cfg.Inbox.Provider = prompt("Mailbox provider (gmail/outlook/imap)", "gmail")
	if cfg.Inbox.Provider == "imap" {
		cfg.Inbox.Server = prompt("IMAP server", "")
		port, err := strconv.Atoi(prompt("IMAP port", "993"))
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		cfg.Inbox.Port = port
	}
	cfg.Inbox.Email = prompt("Mailbox address", "")
	cfg.Inbox.Password = prompt("Mailbox app password", "")

	cfg.Email.Provider = prompt("Outbound provider (smtp/sendgrid/resend)", "smtp")
	cfg.Email.From = prompt("Reply from address", cfg.Inbox.Email)
	switch cfg.Email.Provider {
	case "smtp":
		cfg.Email.SMTP.Host = prompt("SMTP host", "smtp.gmail.com")
		port, err := strconv.Atoi(prompt("SMTP port", "587"))
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		cfg.Email.SMTP.Port = port
		cfg.Email.SMTP.Username = cfg.Inbox.Email
		cfg.Email.SMTP.Password = cfg.Inbox.Password
	case "sendgrid", "resend":
		cfg.Email.APIKey = prompt("Provider API key", "")
	}

	cfg.Relay.Identifier = prompt("Form relay identifier", "formsubmit.co")
	cfg.Company.Name = prompt("Company name", "")
	cfg.Company.Description = prompt("Company description", "")
	cfg.Company.TeamName = prompt("Team name", "Customer Support Team")

	path := resolveConfigPath()
	if err := config.Save(path, cfg); err != nil {
		return err
	}

	fmt.Printf("\nConfiguration written to %s\n", path)
	fmt.Println("Set OPENAI_API_KEY in the environment (or a .env file) before running.")
	return nil
}

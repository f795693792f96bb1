package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/ptgott/localmail/email"
	"github.com/ptgott/localmail/journal"
	"github.com/ptgott/localmail/userconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"
)

var (
	configPath string
	level      string
	config     userconfig.Meta

	sendTo       string
	sendFrom     string
	sendSubject  string
	sendHTML     string
	sendHTMLFile string
)

var rootCmd = &cobra.Command{
	Use:               "localmail",
	Short:             "Submit HTML email to the local mail transfer agent",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one HTML message and print its Message-ID",
	Args:  cobra.NoArgs,
	RunE:  runSend,
}

var historyCmd = &cobra.Command{
	Use:   "history [message-id]",
	Short: "Show the recorded delivery attempt for a Message-ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath,
		"config",
		"./config.yaml",
		"path to a YAML file containing your configuration",
	)
	rootCmd.PersistentFlags().StringVar(
		&level,
		"level",
		"",
		`log level: "debug", "info", "warn" or "error" (overrides the config file)`,
	)

	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient address")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender address")
	sendCmd.Flags().StringVar(&sendSubject, "subject", "", "message subject")
	sendCmd.Flags().StringVar(&sendHTML, "html", "", "HTML body")
	sendCmd.Flags().StringVar(&sendHTMLFile, "html-file", "", "path to a file containing the HTML body")
	sendCmd.MarkFlagRequired("to")
	sendCmd.MarkFlagRequired("from")
	sendCmd.MarkFlagRequired("subject")
	sendCmd.MarkFlagsMutuallyExclusive("html", "html-file")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	if err := rootCmd.Execute(); err != nil {
		var le loggedError
		if !errors.As(err, &le) {
			log.Error().Err(err).Msg("localmail failed")
		}
		os.Exit(1)
	}
}

// loggedError is an error that has already been written to the log, so
// main exits without logging it again.
type loggedError struct {
	error
}

func (e loggedError) Unwrap() error { return e.error }

// setup reads the config file and configures the global logger before any
// subcommand runs.
func setup(cmd *cobra.Command, _ []string) error {
	m, err := loadConfig(cmd.Flags().Changed("config"))
	if err != nil {
		log.Error().
			Str("configPath", configPath).
			Err(err).
			Msg("Problem loading your config")
		return loggedError{err}
	}

	c, err := m.CheckAndSetDefaults()
	if err != nil {
		log.Error().
			Err(err).
			Msg("Problem validating your config")
		return loggedError{err}
	}
	config = c

	if level != "" {
		config.Log.Level, err = userconfig.ParseLevel(level)
		if err != nil {
			return err
		}
	}

	var w io.Writer = os.Stderr
	if config.Log.Console {
		w = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
	log.Logger = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(config.Log.Level)

	log.Debug().Str("configPath", configPath).Msg("successfully validated the config")
	return nil
}

// loadConfig parses the config file. A missing file is only an error if the
// user named it explicitly; otherwise the defaults apply.
func loadConfig(explicit bool) (*userconfig.Meta, error) {
	f, err := os.Open(configPath)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		m := userconfig.Default()
		return &m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("can't open the application config file: %v", err)
	}
	defer f.Close()

	return userconfig.Parse(f)
}

func runSend(cmd *cobra.Command, _ []string) error {
	body := sendHTML
	if sendHTMLFile != "" {
		b, err := os.ReadFile(sendHTMLFile)
		if err != nil {
			return fmt.Errorf("can't read the HTML body: %v", err)
		}
		body = string(b)
	}

	j, err := journal.Open(config.Journal)
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Close(); err != nil {
			log.Error().Err(err).Msg("error closing the journal")
		}
	}()

	opts := []email.Option{}
	if config.Journal.Enabled() {
		opts = append(opts, email.WithRecorder(j))
	}

	t, err := email.NewTransport(config.EmailSettings, opts...)
	if err != nil {
		return err
	}
	email.SetDefault(t)

	// Abandon the SMTP session on an interrupt rather than exiting
	// mid-transaction.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := email.Send(ctx, sendTo, sendFrom, sendSubject, body)
	if err != nil {
		// Send logs every failure itself.
		return loggedError{err}
	}

	fmt.Fprintln(cmd.OutOrStdout(), res.MessageID)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	if !config.Journal.Enabled() {
		return errors.New("the journal is disabled; set journal.storageDir in your config")
	}

	j, err := journal.Open(config.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	a, err := j.Lookup(args[0])
	if err != nil {
		return err
	}

	return yaml.NewEncoder(cmd.OutOrStdout()).Encode(a)
}

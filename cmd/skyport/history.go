package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"skyport/internal/adapter/tui/report"
	"skyport/internal/domain"
	"skyport/internal/infra/config"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past migration runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "Show the report of a past run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt a secret for the config file",
	Long: `Prints an "enc:" value for migration.password or a gateway token.
The passphrase is read from SKYPORT_CONFIG_KEY. Without an argument the value
is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncrypt,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
}

// withHistory opens the configured history store for a one-shot command.
func withHistory(fn func(cfg *config.Config, store domain.RunStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return domain.NewSubSystemError("history", "open", domain.ErrDisabled, "history is disabled in the config")
	}
	store, err := openHistory(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	return withHistory(func(cfg *config.Config, store domain.RunStore) error {
		runs, err := store.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		r, err := report.NewRenderer(cfg.UI.ReportStyle, reportWidth())
		if err != nil {
			return err
		}
		out, err := r.History(runs)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	})
}

func runReport(cmd *cobra.Command, args []string) error {
	return withHistory(func(cfg *config.Config, store domain.RunStore) error {
		rec, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		r, err := report.NewRenderer(cfg.UI.ReportStyle, reportWidth())
		if err != nil {
			return err
		}
		out, err := r.Run(*rec)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	})
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	passphrase := os.Getenv("SKYPORT_CONFIG_KEY")
	if passphrase == "" {
		return domain.NewDomainError("encrypt", domain.ErrEncryption, "SKYPORT_CONFIG_KEY is not set")
	}
	var value string
	if len(args) == 1 {
		value = args[0]
	} else {
		v, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		value = v
	}
	if value == "" {
		return domain.NewDomainError("encrypt", domain.ErrInvalidInput, "nothing to encrypt")
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return domain.NewDomainError("encrypt", domain.ErrEncryption, err.Error())
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), "enc:"+enc)
	return err
}

func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}


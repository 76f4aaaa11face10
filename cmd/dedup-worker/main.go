package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dedup-go/internal/app"
	"dedup-go/internal/archive"
	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
	"dedup-go/internal/encryption"
	"dedup-go/internal/metadata"
	"dedup-go/internal/worker"
)

// workerThumbnailMaxDim matches the coordinator's thumbnail bound.
const workerThumbnailMaxDim = 320

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// deps bundles what every worker command needs.
type deps struct {
	cfg     *config.Config
	archive dedup.Archive
	txs     *worker.TxStore
	logger  dedup.Logger
	logFile *os.File
}

func newDeps(ctx context.Context) (*deps, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := app.NewLogger(cfg.LogDir, opID)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	arch, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	txs, err := worker.NewTxStore(cfg.Worker.DataDir)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("opening transaction store: %w", err)
	}

	return &deps{cfg: cfg, archive: arch, txs: txs, logger: logger, logFile: logFile}, nil
}

func (d *deps) close() {
	d.txs.Close()
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func hasCapability(cfg *config.Config, capability string) bool {
	for _, c := range cfg.Worker.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:   "dedup-worker",
	Short: "Remote worker for the photo duplicate manager",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the coordinator and serve commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd.Context())
		if err != nil {
			return err
		}
		defer d.close()

		clock := dedup.RealClock{}
		idgen := dedup.UUIDGenerator{}

		var deleter *worker.Deleter
		if hasCapability(d.cfg, dedup.CapabilityCleanup) {
			var enc dedup.Encryptor
			enc, err = encryption.NewEncryptorFromConfig(d.cfg.Encryption)
			if err != nil {
				return fmt.Errorf("creating encryptor: %w", err)
			}
			deleter = worker.NewDeleter(d.archive, enc, d.txs, clock, idgen, d.logger)
		}

		var indexer *worker.Indexer
		if hasCapability(d.cfg, dedup.CapabilityIndexing) {
			extractor := metadata.NewExifExtractor(workerThumbnailMaxDim, d.logger)
			indexer = worker.NewIndexer(d.archive, extractor, d.logger)
		}

		runner, err := worker.NewRunner(d.cfg.Worker.CoordinatorAddr, d.cfg.HostID, deleter, indexer, d.logger)
		if err != nil {
			return err
		}

		if err := runner.Run(cmd.Context()); err != nil && cmd.Context().Err() == nil {
			return err
		}
		return nil
	},
}

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Inspect recorded delete transactions",
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delete transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd.Context())
		if err != nil {
			return err
		}
		defer d.close()

		txs, err := d.txs.List()
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			fmt.Println("No delete transactions recorded.")
			return nil
		}
		for _, tx := range txs {
			state := ""
			if tx.RolledBack {
				state = "  [rolled back]"
			}
			enc := ""
			if tx.Encrypted {
				enc = "  [encrypted]"
			}
			fmt.Printf("%s  %s  %s  %s%s%s\n",
				tx.ID,
				tx.DeletedAt.Format("2006-01-02 15:04:05"),
				tx.ArchiveKey,
				tx.OriginalPath,
				enc,
				state,
			)
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback TX_ID",
	Short: "Restore an archived original from a delete transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDeps(cmd.Context())
		if err != nil {
			return err
		}
		defer d.close()

		tx, err := d.txs.Find(args[0])
		if err != nil {
			return err
		}
		if tx == nil {
			return fmt.Errorf("transaction not found: %s", args[0])
		}

		var decryption dedup.DecryptionContext
		if tx.Encrypted {
			enc, err := encryption.NewEncryptorFromConfig(d.cfg.Encryption)
			if err != nil {
				return fmt.Errorf("creating encryptor: %w", err)
			}
			if enc == nil {
				return fmt.Errorf("transaction is encrypted but encryption is disabled in the config")
			}
			pass, err := promptPassphrase("Passphrase for private key: ")
			if err != nil {
				return err
			}
			decryption, err = enc.Unlock(pass)
			if err != nil {
				return fmt.Errorf("unlocking private key: %w", err)
			}
		}

		rb := worker.NewRollbacker(d.archive, d.txs, dedup.RealClock{}, d.logger)
		if err := rb.RollbackTransaction(cmd.Context(), args[0], decryption); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		fmt.Printf("Restored %s\n", tx.OriginalPath)
		return nil
	},
}

func init() {
	txCmd.AddCommand(txListCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(txCmd)
	rootCmd.AddCommand(rollbackCmd)
}

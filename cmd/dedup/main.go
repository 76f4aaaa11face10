package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dedup-go/internal/app"
	"dedup-go/internal/config"
	"dedup-go/internal/dedup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close(). operation identifies the CLI command being run.
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
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
	Use:   "dedup",
	Short: "Photo collection duplicate manager",
}

// config command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:       %s\n", cfg.HostID)
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Archive:       %s\n", cfg.Archive.Type)
		fmt.Printf("Indexing mode: %s\n", cfg.Indexing.Mode)
		fmt.Printf("Hub listen:    %s\n", cfg.Hub.ListenAddr)
		return nil
	},
}

var configArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage archive storage",
}

var configArchiveCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify archive storage access",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "CheckArchive")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ValidateArchive(cmd.Context()); err != nil {
			return fmt.Errorf("archive check failed: %w", err)
		}
		fmt.Println("Archive storage is accessible.")
		return nil
	},
}

var configEncryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Manage archive encryption",
}

var configEncryptionInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate archive encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SetupEncryption")
		if err != nil {
			return err
		}
		defer a.Close()

		enc := a.Encryptor()
		if enc == nil {
			return fmt.Errorf("encryption is disabled in the config")
		}
		if enc.IsConfigured() {
			return fmt.Errorf("encryption keys already exist")
		}

		pass, err := promptPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := enc.Setup(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}
		fmt.Println("Encryption keys generated.")
		return nil
	},
}

// dir command

var dirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Manage scan directories",
}

var dirAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a directory for scanning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")

		a, err := newApp(cmd.Context(), "AddDirectory")
		if err != nil {
			return err
		}
		defer a.Close()

		dir, err := a.AddDirectory(args[0], recursive)
		if err != nil {
			return fmt.Errorf("registering directory: %w", err)
		}
		fmt.Printf("Registered %s (%s)\n", dir.Path, dir.ID)
		return nil
	},
}

var dirListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scan directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		enabledOnly, _ := cmd.Flags().GetBool("enabled")

		a, err := newApp(cmd.Context(), "ListDirectories")
		if err != nil {
			return err
		}
		defer a.Close()

		dirs, err := a.ListDirectories(enabledOnly)
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			fmt.Println("No scan directories registered.")
			return nil
		}
		for _, d := range dirs {
			state := "enabled"
			if !d.Enabled {
				state = "disabled"
			}
			mode := "recursive"
			if !d.Recursive {
				mode = "flat"
			}
			fmt.Printf("%s  %-8s  %-9s  %s\n", d.ID, state, mode, d.Path)
		}
		return nil
	},
}

func dirToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), "SetDirectoryEnabled")
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.SetDirectoryEnabled(args[0], enabled); err != nil {
				return err
			}
			fmt.Printf("Directory %s %sd\n", args[0], use)
			return nil
		},
	}
}

// scan command

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index all enabled directories and refresh duplicate groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Scan")
		if err != nil {
			return err
		}
		defer a.Close()

		result, groups, err := a.Scan(cmd.Context())
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}

		fmt.Printf("Scanned %d file(s) across %d root(s) (%d skipped as covered)\n",
			result.Scanned, result.RootsScanned, result.RootsSkipped)
		fmt.Printf("Ingested %d, failed %d\n", result.Ingested, result.Failed)
		fmt.Printf("Groups: %d created, %d updated, %d file(s) attached\n",
			groups.GroupsCreated, groups.GroupsUpdated, groups.FilesAttached)
		return nil
	},
}

// groups command

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "Manage duplicate groups",
}

var groupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List duplicate groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		a, err := newApp(cmd.Context(), "ListGroups")
		if err != nil {
			return err
		}
		defer a.Close()

		var statuses []dedup.GroupStatus
		if status != "" {
			statuses = append(statuses, dedup.GroupStatus(status))
		}
		groups, err := a.ListGroups(statuses...)
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Println("No duplicate groups.")
			return nil
		}
		for _, g := range groups {
			fmt.Printf("%s  %-15s  %3d file(s)  %12d bytes  %s\n",
				g.ID, g.Status, g.FileCount, g.TotalSizeBytes, g.ContentHash[:12])
		}
		return nil
	},
}

var groupsShowCmd = &cobra.Command{
	Use:   "show GROUP_ID",
	Short: "Show the members of a group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ShowGroup")
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.GroupFiles(args[0])
		if err != nil {
			return err
		}
		for _, f := range files {
			marker := " "
			switch {
			case f.IsHidden:
				marker = "H"
			case !f.IsDuplicate:
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, f.ID, f.FilePath)
		}
		return nil
	},
}

var groupsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild duplicate groups from the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "RefreshGroups")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.RefreshGroups(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Groups: %d created, %d updated, %d file(s) attached\n",
			result.GroupsCreated, result.GroupsUpdated, result.FilesAttached)
		return nil
	},
}

var groupsSelectCmd = &cobra.Command{
	Use:   "select [GROUP_ID]",
	Short: "Run original selection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "SelectOriginals")
		if err != nil {
			return err
		}
		defer a.Close()

		if len(args) == 1 {
			if err := a.SelectGroup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Selection run on group %s\n", args[0])
			return nil
		}

		result, err := a.SelectOriginals(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Selected %d group(s), %d conflict(s), %d skipped\n",
			result.Selected, result.Conflicts, result.Skipped)
		return nil
	},
}

var groupsValidateCmd = &cobra.Command{
	Use:   "validate GROUP_ID",
	Short: "Confirm a group's selection for cleanup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ValidateGroup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.TransitionGroup(args[0], dedup.StatusValidated); err != nil {
			return err
		}
		fmt.Printf("Group %s validated\n", args[0])
		return nil
	},
}

var groupsReopenCmd = &cobra.Command{
	Use:   "reopen GROUP_ID",
	Short: "Send a group back to pending review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "ReopenGroup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.TransitionGroup(args[0], dedup.StatusPending); err != nil {
			return err
		}
		fmt.Printf("Group %s reopened\n", args[0])
		return nil
	},
}

// files command

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage indexed files",
}

var filesHideCmd = &cobra.Command{
	Use:   "hide FILE_ID",
	Short: "Exclude a file from selection and cleanup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")

		a, err := newApp(cmd.Context(), "HideFile")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.HideFile(args[0], true, reason); err != nil {
			return err
		}
		fmt.Printf("File %s hidden\n", args[0])
		return nil
	},
}

var filesUnhideCmd = &cobra.Command{
	Use:   "unhide FILE_ID",
	Short: "Re-include a hidden file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "UnhideFile")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.HideFile(args[0], false, ""); err != nil {
			return err
		}
		fmt.Printf("File %s unhidden\n", args[0])
		return nil
	},
}

// cleanup command

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Archive-then-delete validated duplicates",
}

var cleanupCreateCmd = &cobra.Command{
	Use:   "create GROUP_ID",
	Short: "Create a cleanup job from a validated group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")

		a, err := newApp(cmd.Context(), "CreateCleanupJob")
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.CreateCleanupJob(args[0], dedup.Category(category))
		if err != nil {
			return err
		}
		fmt.Printf("Cleanup job %s created for group %s\n", job.ID, job.GroupID)
		return nil
	},
}

var cleanupDispatchCmd = &cobra.Command{
	Use:   "dispatch JOB_ID",
	Short: "Execute a cleanup job through a connected worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("worker-wait")

		a, err := newApp(cmd.Context(), "DispatchJob")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DispatchJob(cmd.Context(), args[0], wait); err != nil {
			return fmt.Errorf("dispatch failed: %w", err)
		}
		fmt.Printf("Job %s processed\n", args[0])
		return nil
	},
}

// sweep command

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge archived copies past their retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Sweep")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Examined %d, deleted %d, failed %d, skipped %d\n",
			result.Examined, result.Deleted, result.Failed, result.Skipped)
		return nil
	},
}

// serve command

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator (worker listener, dispatch, daily sweep)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "Serve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Serve(cmd.Context()); err != nil && cmd.Context().Err() == nil {
			return err
		}
		return nil
	},
}

// history command

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recorded operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer a.Close()

		cycles, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(cycles) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, c := range cycles {
			duration := ""
			if c.FinishedAt != nil {
				duration = c.FinishedAt.Sub(c.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-18s  %s  %-8s  scanned:%d ingested:%d failed:%d  %s\n",
				c.ID,
				c.Operation,
				c.StartedAt.Format("2006-01-02 15:04:05"),
				c.Status,
				c.Scanned, c.Ingested, c.Failed,
				duration,
			)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configArchiveCmd)
	configArchiveCmd.AddCommand(configArchiveCheckCmd)
	configCmd.AddCommand(configEncryptionCmd)
	configEncryptionCmd.AddCommand(configEncryptionInitCmd)

	// dir subcommands
	dirCmd.AddCommand(dirAddCmd)
	dirAddCmd.Flags().BoolP("recursive", "r", true, "Recurse into subdirectories")
	dirCmd.AddCommand(dirListCmd)
	dirListCmd.Flags().Bool("enabled", false, "Only show enabled directories")
	dirCmd.AddCommand(dirToggleCmd("enable", "Enable a scan directory", true))
	dirCmd.AddCommand(dirToggleCmd("disable", "Disable a scan directory", false))

	// groups subcommands
	groupsCmd.AddCommand(groupsListCmd)
	groupsListCmd.Flags().StringP("status", "s", "", "Filter by status")
	groupsCmd.AddCommand(groupsShowCmd)
	groupsCmd.AddCommand(groupsRefreshCmd)
	groupsCmd.AddCommand(groupsSelectCmd)
	groupsCmd.AddCommand(groupsValidateCmd)
	groupsCmd.AddCommand(groupsReopenCmd)

	// files subcommands
	filesCmd.AddCommand(filesHideCmd)
	filesHideCmd.Flags().String("reason", "", "Why the file is hidden")
	filesCmd.AddCommand(filesUnhideCmd)

	// cleanup subcommands
	cleanupCmd.AddCommand(cleanupCreateCmd)
	cleanupCreateCmd.Flags().StringP("category", "c", string(dedup.CategoryHashDuplicate), "Archive category")
	cleanupCmd.AddCommand(cleanupDispatchCmd)
	cleanupDispatchCmd.Flags().Duration("worker-wait", 30*time.Second, "How long to wait for a worker to connect")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}

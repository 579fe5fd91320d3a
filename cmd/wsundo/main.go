package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"wsundo/internal/app"
	"wsundo/internal/config"
	"wsundo/internal/undo"
	"wsundo/internal/workspace"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must call Close.
// operation identifies the CLI command being run (e.g. "Delete", "Undo").
func newApp(ctx context.Context, operation, parameters string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(ctx, cfg, operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a fresh App and closes it afterwards. A failure
// of fn is recorded on the operation. With unlock set, encrypted history
// is unlocked first.
func withApp(cmd *cobra.Command, operation string, args []string, unlock bool, fn func(ctx context.Context, a *app.App) error) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, operation, strings.Join(args, " "))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		a.SetMonitor(&textMonitor{w: os.Stderr})
	}
	if unlock && a.NeedsUnlock() {
		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return a.Operation().Fail(err)
		}
		if err := a.Unlock(passphrase); err != nil {
			return a.Operation().Fail(err)
		}
	}
	return a.Operation().Fail(fn(ctx, a))
}

var rootCmd = &cobra.Command{
	Use:          "wsundo",
	Short:        "Workspace resources with undoable deletes",
	SilenceUsage: true,
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
		fmt.Printf("Host ID:    %s\n", cfg.HostID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Workspace:  %s %s\n", cfg.Workspace.Type, cfg.Workspace.Root)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:      %s (%s)\n", v.Name, v.Type)
		}
		fmt.Printf("Encryption: %s (history encrypted: %v)\n", cfg.Encryption.Type, cfg.History.Encrypt)
		fmt.Printf("History:    %d states per file\n", cfg.History.EffectiveMaxStates())
		return nil
	},
}

var configEncryptionCmd = &cobra.Command{
	Use:   "encryption",
	Short: "Create the history encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "SetupEncryption", nil, false, func(ctx context.Context, a *app.App) error {
			passphrase, err := readNewPassphrase()
			if err != nil {
				return err
			}
			if err := a.SetupEncryption(passphrase); err != nil {
				return err
			}
			fmt.Println("Encryption keys created.")
			return nil
		})
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create and open a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comment, _ := cmd.Flags().GetString("comment")
		return withApp(cmd, "CreateProject", args, false, func(ctx context.Context, a *app.App) error {
			if err := a.CreateProject(ctx, args[0], comment); err != nil {
				return err
			}
			return a.OpenProject(ctx, args[0])
		})
	},
}

var projectOpenCmd = &cobra.Command{
	Use:   "open PATH",
	Short: "Open a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "OpenProject", args, false, func(ctx context.Context, a *app.App) error {
			return a.OpenProject(ctx, args[0])
		})
	},
}

var projectCloseCmd = &cobra.Command{
	Use:   "close PATH",
	Short: "Close a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "CloseProject", args, false, func(ctx context.Context, a *app.App) error {
			return a.CloseProject(ctx, args[0])
		})
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		virtual, _ := cmd.Flags().GetBool("virtual")
		parents, _ := cmd.Flags().GetBool("parents")
		return withApp(cmd, "Mkdir", args, false, func(ctx context.Context, a *app.App) error {
			return a.Mkdir(ctx, args[0], virtual, parents)
		})
	},
}

var linkCmd = &cobra.Command{
	Use:   "link PATH TARGET",
	Short: "Link a file or folder to a file:// location",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := undo.KindFile
		if folder, _ := cmd.Flags().GetBool("folder"); folder {
			kind = undo.KindFolder
		}
		return withApp(cmd, "Link", args, false, func(ctx context.Context, a *app.App) error {
			return a.Link(ctx, args[0], kind, args[1])
		})
	},
}

var writeCmd = &cobra.Command{
	Use:   "write PATH [FILE]",
	Short: "Write a file from FILE or stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src io.Reader = cmd.InOrStdin()
		if len(args) == 2 {
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[1], err)
			}
			defer f.Close()
			src = f
		}
		return withApp(cmd, "Write", args[:1], false, func(ctx context.Context, a *app.App) error {
			return a.Write(ctx, args[0], src)
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat PATH",
	Short: "Print the content of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Read", args, false, func(ctx context.Context, a *app.App) error {
			data, err := a.Read(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		})
	},
}

var charsetCmd = &cobra.Command{
	Use:   "charset PATH CHARSET",
	Short: "Set the charset of a file or the default charset of a container",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "SetCharset", args, false, func(ctx context.Context, a *app.App) error {
			return a.SetCharset(args[0], args[1])
		})
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List resources",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		target := "/"
		if len(args) > 0 {
			target = args[0]
		}
		return withApp(cmd, "List", args, false, func(ctx context.Context, a *app.App) error {
			infos, err := a.List(target, recursive)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No resources.")
				return nil
			}
			for _, info := range infos {
				fmt.Println(formatInfo(info))
			}
			return nil
		})
	},
}

// formatInfo renders a resource as "<flags> <kind> <path> [-> target]".
// Flags: L linked, V virtual, C closed project, R read-only.
func formatInfo(info *undo.ResourceInfo) string {
	flags := []byte("----")
	if info.IsLinked() {
		flags[0] = 'L'
	}
	if info.Virtual {
		flags[1] = 'V'
	}
	if info.Kind == undo.KindProject && !info.Open {
		flags[2] = 'C'
	}
	if info.Attributes != nil && info.Attributes.ReadOnly {
		flags[3] = 'R'
	}
	line := fmt.Sprintf("%s %-7s %s", flags, info.Kind, info.Path)
	if info.IsLinked() {
		line += " -> " + info.LinkTarget
	}
	return line
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [PATH]",
	Short: "Bring the tree in line with the filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "/"
		if len(args) > 0 {
			target = args[0]
		}
		return withApp(cmd, "Refresh", args, false, func(ctx context.Context, a *app.App) error {
			return a.Refresh(ctx, target)
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Delete a resource (undoable)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Delete", args, true, func(ctx context.Context, a *app.App) error {
			if err := a.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the most recent delete, create or write",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withApp(cmd, "Undo", args, true, func(ctx context.Context, a *app.App) error {
			p, err := a.Undo(ctx, force)
			if err != nil {
				return err
			}
			fmt.Printf("Undid %s\n", p)
			return nil
		})
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Apply again the change most recently reverted by undo",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return withApp(cmd, "Redo", args, true, func(ctx context.Context, a *app.App) error {
			p, err := a.Redo(ctx, force)
			if err != nil {
				return err
			}
			fmt.Printf("Redid %s\n", p)
			return nil
		})
	},
}

var stackCmd = &cobra.Command{
	Use:   "stack",
	Short: "View the undo stack",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, "UndoEntries", args, false, func(ctx context.Context, a *app.App) error {
			entries, err := a.UndoEntries(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Undo stack is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("#%d  %-9s  %s  %s\n", e.ID, e.State, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Label)
			}
			return nil
		})
	},
}

// markers command
var markersCmd = &cobra.Command{
	Use:   "markers",
	Short: "Manage markers",
}

var markersAddCmd = &cobra.Command{
	Use:   "add PATH TYPE [KEY=VALUE...]",
	Short: "Attach a marker to a resource",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := parseAttributes(args[2:])
		if err != nil {
			return err
		}
		return withApp(cmd, "AddMarker", args, false, func(ctx context.Context, a *app.App) error {
			m, err := a.AddMarker(args[0], args[1], attrs)
			if err != nil {
				return err
			}
			fmt.Printf("Marker #%d added\n", m.ID)
			return nil
		})
	},
}

// parseAttributes turns KEY=VALUE arguments into marker attributes.
func parseAttributes(args []string) (map[string]any, error) {
	attrs := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q: want KEY=VALUE", arg)
		}
		attrs[key] = value
	}
	return attrs, nil
}

var markersListCmd = &cobra.Command{
	Use:   "list PATH",
	Short: "List the markers of a resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Markers", args, false, func(ctx context.Context, a *app.App) error {
			markers, err := a.Markers(args[0])
			if err != nil {
				return err
			}
			for _, m := range markers {
				fmt.Printf("#%d  %s  %v\n", m.ID, m.Type, m.Attributes)
			}
			return nil
		})
	},
}

var filterCmd = &cobra.Command{
	Use:   "filter PATH PATTERN",
	Short: "Attach a resource filter to a container",
	Long: `Attach a resource filter to a container. Filters hide members found on
disk when the workspace refreshes. PATTERN holds one glob per line.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := filterFromFlags(cmd, args[1])
		if err != nil {
			return err
		}
		return withApp(cmd, "AddFilter", args, false, func(ctx context.Context, a *app.App) error {
			return a.AddFilter(ctx, args[0], filter)
		})
	},
}

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("exclude", false, "Exclude matching members instead of including only them")
	cmd.Flags().Bool("files", false, "Apply to files")
	cmd.Flags().Bool("folders", false, "Apply to folders")
	cmd.Flags().Bool("inheritable", false, "Apply to members of subfolders too")
	cmd.Flags().String("matcher", workspace.MatchName, "Match against the member name or its relative path")
}

func filterFromFlags(cmd *cobra.Command, pattern string) (undo.ResourceFilter, error) {
	exclude, _ := cmd.Flags().GetBool("exclude")
	files, _ := cmd.Flags().GetBool("files")
	folders, _ := cmd.Flags().GetBool("folders")
	inheritable, _ := cmd.Flags().GetBool("inheritable")
	matcher, _ := cmd.Flags().GetString("matcher")

	f := undo.ResourceFilter{MatcherID: matcher, Arguments: pattern, Type: undo.FilterIncludeOnly}
	if exclude {
		f.Type = undo.FilterExcludeAll
	}
	if !files && !folders {
		files, folders = true, true
	}
	if files {
		f.Type |= undo.FilterFiles
	}
	if folders {
		f.Type |= undo.FilterFolders
	}
	if inheritable {
		f.Type |= undo.FilterInheritable
	}
	if matcher != workspace.MatchName && matcher != workspace.MatchPath {
		return f, fmt.Errorf("unknown matcher %q: want %s or %s", matcher, workspace.MatchName, workspace.MatchPath)
	}
	return f, nil
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View file history",
}

var historyListCmd = &cobra.Command{
	Use:   "list PATH",
	Short: "List the retained states of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "History", args, false, func(ctx context.Context, a *app.App) error {
			states, err := a.History(ctx, args[0])
			if err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Println("No history.")
				return nil
			}
			for _, s := range states {
				fmt.Printf("%s  %s  mtime:%s  %s\n",
					s.ID(),
					s.Checksum()[:12],
					s.ModificationTime().Format("2006-01-02 15:04:05"),
					s.RecordedAt().Format("2006-01-02 15:04:05"),
				)
			}
			return nil
		})
	},
}

var historyDiffCmd = &cobra.Command{
	Use:   "diff PATH STATE",
	Short: "Diff a retained state against the current content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Diff", args, true, func(ctx context.Context, a *app.App) error {
			diff, err := a.Diff(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if diff == "" {
				fmt.Println("No differences.")
				return nil
			}
			fmt.Print(diff)
			return nil
		})
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, "Log", args, false, func(ctx context.Context, a *app.App) error {
			ops, err := a.Log(limit)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("No operations recorded.")
				return nil
			}
			for _, op := range ops {
				duration := ""
				if op.FinishedAt != nil {
					duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
				}
				fmt.Printf("#%d  %-15s  %s  %-8s  %s  %s\n",
					op.ID,
					op.Operation,
					op.StartedAt.Format("2006-01-02 15:04:05"),
					op.Status,
					duration,
					op.Parameters,
				)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Report progress on stderr")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configEncryptionCmd)

	// project subcommands
	projectCmd.AddCommand(projectCreateCmd)
	projectCreateCmd.Flags().String("comment", "", "Project comment")
	projectCmd.AddCommand(projectOpenCmd)
	projectCmd.AddCommand(projectCloseCmd)

	markersCmd.AddCommand(markersAddCmd)
	markersCmd.AddCommand(markersListCmd)

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyDiffCmd)

	addFilterFlags(filterCmd)

	mkdirCmd.Flags().Bool("virtual", false, "Create a virtual folder")
	mkdirCmd.Flags().BoolP("parents", "p", false, "Create missing parents as well")
	linkCmd.Flags().Bool("folder", false, "Link a folder instead of a file")
	lsCmd.Flags().BoolP("recursive", "r", false, "List everything below PATH")
	undoCmd.Flags().Bool("force", false, "Restore even when file content is no longer in history")
	redoCmd.Flags().Bool("force", false, "Recreate even when file content is no longer in history")
	stackCmd.Flags().IntP("limit", "n", 20, "Maximum number of entries to show")
	logCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(charsetCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(stackCmd)
	rootCmd.AddCommand(markersCmd)
	rootCmd.AddCommand(filterCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(logCmd)
}

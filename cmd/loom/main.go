package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"chatloom/internal/app"
	"chatloom/internal/logging"
	"chatloom/internal/rpc"
	"chatloom/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const (
	version = "0.5.0"
	repoURL = "https://github.com/chatloom/loom"
)

func getBinaryPath() string {
	exe, _ := os.Executable()
	return exe
}

// configPath resolves the config file location, preferring the --config
// flag over the per-user default.
func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return app.DefaultConfigPath()
}

// logFilePath is where the client writes its log when the full-screen UI
// owns the terminal.
func logFilePath(cfg app.Config) string {
	if cfg.LogFile != "" {
		return cfg.LogFile
	}
	return filepath.Join(cfg.StateDir, "loom.log")
}

// buildApp loads configuration and wires an Application. The UI logs to
// a file because stdout and stderr belong to the terminal; headless
// subcommands log warnings to stderr so scripted output stays clean.
func buildApp(forTUI bool) (*app.Application, error) {
	cfg, err := app.LoadConfig(configPath())
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = "warn"
	if forTUI {
		path := logFilePath(cfg)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		logCfg = logging.FileConfig(path)
		logCfg.Level = cfg.LogLevel
	}
	log, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	return app.NewApplication(cfg, log), nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx, cancel
}

func generateCompletion(shell string) error {
	switch shell {
	case "bash":
		fmt.Println("# bash completion for loom")
		fmt.Println("_loom_completions() {")
		fmt.Println("    local cur")
		fmt.Println("    COMPREPLY=()")
		fmt.Println("    cur=\"${COMP_WORDS[COMP_CWORD]}\"")
		fmt.Println("    opts=\"sessions memory docs send health logs setup completion help --config --version --help\"")
		fmt.Println("    if [[ $COMP_CWORD -eq 1 ]]; then")
		fmt.Println("        COMPREPLY=( $(compgen -W \"${opts}\" -- \"${cur}\") )")
		fmt.Println("    fi")
		fmt.Println("    return 0")
		fmt.Println("}")
		fmt.Println("complete -F _loom_completions loom")
	case "zsh":
		fmt.Println("# zsh completion for loom")
		fmt.Println("compdef _loom loom")
		fmt.Println("_loom() {")
		fmt.Println("    _arguments -C \\")
		fmt.Println("        '(-h --help)'{-h,--help}'[show help]' \\")
		fmt.Println("        '(-v --version)'{-v,--version}'[print version]' \\")
		fmt.Println("        '--config[path to config file]:file:_files' \\")
		fmt.Println("        '1:command:(sessions memory docs send health logs setup completion help)'")
		fmt.Println("}")
	case "fish":
		fmt.Println("# fish completion for loom")
		fmt.Println("complete -c loom -f -a 'sessions memory docs send health logs setup completion help'")
		fmt.Println("complete -c loom -s h -l help -d 'Show help'")
		fmt.Println("complete -c loom -s v -l version -d 'Print version'")
		fmt.Println("complete -c loom -l config -d 'Path to config file' -r")
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
	return nil
}

func main() {
	root := &cobra.Command{
		Use:     "loom",
		Short:   "Loom - terminal client for the conversation service",
		Long:    "Loom is a terminal chat client that keeps a local transcript in step with the conversation service.\n\nRun without arguments for the full-screen client, or use the subcommands for scripted access to sessions, memory and documents.\n\nFor more information, visit: " + repoURL,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Printf("loom v%s\n", version)
				fmt.Printf("Repository: %s\n", repoURL)
				fmt.Printf("Installed at: %s\n", getBinaryPath())
				return nil
			}

			application, err := buildApp(true)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if err := application.Bootstrap(ctx); err != nil {
				return err
			}

			return tui.Run(application)
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	root.Flags().BoolP("version", "v", false, "Print version information")

	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration wizard",
		Long:  "Walk through server URL, model and theme, then write the config file.\n\nExamples:\n  - loom setup\n  - loom --config ./loom.yaml setup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			cfg, err := app.LoadConfig(path)
			if err != nil {
				return err
			}
			wizard := tui.NewSetupWizard(cfg, path)
			if _, err := tea.NewProgram(wizard).Run(); err != nil {
				return err
			}
			if wizard.Saved() {
				fmt.Printf("Wrote %s\n", path)
			} else {
				fmt.Println("Setup cancelled, nothing written.")
			}
			return nil
		},
	}
	root.AddCommand(setupCmd)

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions",
	}
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if err := application.Sessions.ListAll(ctx); err != nil {
				return err
			}

			rows := application.Sessions.Directory()
			if len(rows) == 0 {
				fmt.Println("No sessions yet.")
				return nil
			}
			active, _ := application.State.ActiveSession()
			for _, s := range rows {
				marker := " "
				if s.ID.Equal(active) {
					marker = "*"
				}
				updated := "-"
				if !s.UpdatedAt.IsZero() {
					updated = s.UpdatedAt.Format("2006-01-02 15:04")
				}
				fmt.Printf("%s %-8s %-32s %3d requests  %s\n", marker, s.ID, s.DisplayName(), s.RequestCount, updated)
			}
			return nil
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Create a session and make it active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			id, err := application.Sessions.Create(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Created session %s\n", id)
			return nil
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "rename [id] [name]",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			id := rpc.ParseID(args[0])
			name := strings.TrimSpace(strings.Join(args[1:], " "))
			if err := application.Sessions.Rename(ctx, id, name); err != nil {
				return err
			}
			fmt.Printf("Renamed session %s to %q\n", id, name)
			return nil
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "rm [id]",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			id := rpc.ParseID(args[0])
			if err := application.Sessions.Remove(ctx, id); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s\n", id)
			return nil
		},
	})
	root.AddCommand(sessionsCmd)

	memoryCmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage remembered facts",
	}
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored facts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			application.Knowledge.RefreshAll(ctx)

			facts := application.Knowledge.Facts()
			if len(facts) == 0 {
				fmt.Println("No facts stored.")
				return nil
			}
			for i, f := range facts {
				fmt.Printf("%2d. %s\n", i+1, f)
			}
			return nil
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "add [text]",
		Short: "Store a fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			res, err := application.Knowledge.AddFact(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.Declined {
				return fmt.Errorf("not stored: %s", res.Reason)
			}
			fmt.Println("Stored.")
			return nil
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "edit [old] [new]",
		Short: "Replace a fact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			res, err := application.Knowledge.EditFact(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if res.Declined {
				return fmt.Errorf("not updated: %s", res.Reason)
			}
			fmt.Println("Updated.")
			return nil
		},
	})
	memoryCmd.AddCommand(&cobra.Command{
		Use:   "rm [text]",
		Short: "Forget a fact",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			res, err := application.Knowledge.DeleteFact(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if res.Declined {
				return fmt.Errorf("not removed: %s", res.Reason)
			}
			fmt.Println("Removed.")
			return nil
		},
	})
	root.AddCommand(memoryCmd)

	docsCmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage indexed documents",
	}
	docsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List indexed documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			application.Knowledge.RefreshAll(ctx)

			library := application.Knowledge.Documents()
			files := library.SourceFiles()
			if len(files) == 0 {
				fmt.Println("No documents indexed.")
				return nil
			}
			for _, name := range files {
				fmt.Printf("%-40s %d chunks\n", name, len(library[name]))
			}
			return nil
		},
	})
	docsCmd.AddCommand(&cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a document for indexing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := signalContext()
			defer cancel()
			res, err := application.Knowledge.UploadDocument(ctx, filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			if !res.Added {
				return fmt.Errorf("service did not index %s", filepath.Base(args[0]))
			}
			fmt.Printf("Indexed %d chunks in %d sections\n", res.Chunks, res.Sections)
			return nil
		},
	})
	docsCmd.AddCommand(&cobra.Command{
		Use:   "rm [filename]",
		Short: "Remove an indexed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			res, err := application.Knowledge.DeleteDocument(ctx, args[0])
			if err != nil {
				return err
			}
			if res.Declined {
				return fmt.Errorf("not removed: %s", res.Reason)
			}
			fmt.Println("Removed.")
			return nil
		},
	})
	root.AddCommand(docsCmd)

	sendCmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message to the active session and print the reply",
		Long:  "Send a message without entering the full-screen client.\n\nExamples:\n  - loom send \"summarize yesterday\"\n  - echo \"summarize yesterday\" | loom send",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			if err := application.Bootstrap(ctx); err != nil {
				return err
			}

			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("error reading input: %w", err)
				}
				text = strings.TrimSpace(string(data))
			}
			if text == "" {
				return fmt.Errorf("no message provided")
			}

			before := len(application.Sessions.Transcript())
			res, err := application.Chat.Send(ctx, text)
			if err != nil {
				return err
			}
			if !res.Confirmed() {
				return fmt.Errorf("delivery failed, message kept locally: %v", res.Err)
			}
			for _, m := range application.Sessions.Transcript()[before:] {
				if m.Role == app.RoleAssistant {
					fmt.Println(m.Content)
				}
			}
			return nil
		},
	}
	root.AddCommand(sendCmd)

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check the conversation service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp(false)
			if err != nil {
				return err
			}
			defer application.Close()

			ctx, cancel := signalContext()
			defer cancel()
			server := app.SafeServerURL(application.Config.ServerURL)
			h, err := application.Client.Health(ctx)
			if err != nil {
				return fmt.Errorf("%s is unreachable: %w", server, err)
			}
			fmt.Printf("%s: %s\n", server, h.Status)
			return nil
		},
	}
	root.AddCommand(healthCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent warnings from the client log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(configPath())
			if err != nil {
				return err
			}
			events, err := logging.TailWarnings(logFilePath(cfg), logsLimit)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					fmt.Println("No log file yet.")
					return nil
				}
				return err
			}
			if len(events) == 0 {
				fmt.Println("No recent warnings.")
				return nil
			}
			for _, ev := range events {
				fmt.Println(logging.FormatEvent(ev))
			}
			return nil
		},
	}
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 40, "Maximum number of entries to show")
	root.AddCommand(logsCmd)

	completionCmd := &cobra.Command{
		Use:   "completion [shell]",
		Short: "Generate shell completion",
		Long:  "Generate shell completion script for loom.\n\nExamples:\n  - loom completion bash >> ~/.bashrc\n  - loom completion zsh > ~/.zsh/completion/_loom\n  - loom completion fish > ~/.config/fish/completions/loom.fish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return generateCompletion(args[0])
		},
	}
	root.AddCommand(completionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	flagConfig string
	logsLimit  int
)

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"sort"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"reflectview/internal/analysis"
	"reflectview/internal/elfx"
	"reflectview/internal/events"
	"reflectview/internal/ilkind"
	"reflectview/internal/reflectview/log"
	"reflectview/internal/ui/container"
	"reflectview/internal/viewloc"
)

var rootCmd = &cobra.Command{
	Use:   "reflectview <binary>",
	Short: "Linked-pane disassembly viewer",
	Long: `Reflectview opens an ELF binary in two linked panes: a source pane
and a reflection pane showing the same code in another representation.
Cycling the source view remaps the reflection; moving the cursor in the
source follows in the reflection.`,
	Example: `
# Open a binary at its first function
reflectview ./libgame.so

# Jump straight to a function, by name or hex address
reflectview --function _Z5framev ./libgame.so
reflectview --function 0x1a2b0 ./libgame.so

# Follow a JSONL analysis event stream while browsing
reflectview --events analysis.jsonl ./libgame.so

# Print the function table without the TUI
reflectview --no-tui ./libgame.so`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")
		log.Setup(debug)

		if len(args) < 1 {
			return fmt.Errorf("usage: reflectview <binary>")
		}

		absPath, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", args[0])
			}
			return fmt.Errorf("cannot access file: %v", err)
		}

		if cpuprofile, _ := cmd.Flags().GetString("cpuprofile"); cpuprofile != "" {
			f, err := os.Create(cpuprofile)
			if err != nil {
				return fmt.Errorf("could not create CPU profile: %v", err)
			}
			defer f.Close()
			if err := pprof.StartCPUProfile(f); err != nil {
				return fmt.Errorf("could not start CPU profile: %v", err)
			}
			defer pprof.StopCPUProfile()
		}

		noTUI, _ := cmd.Flags().GetBool("no-tui")
		if !term.IsTerminal(os.Stdout.Fd()) {
			noTUI = true
			os.Setenv("REFLECTVIEW_NO_COLOR", "1")
		}
		if noTUI {
			os.Setenv("REFLECTVIEW_NO_COLOR", "1")
		}

		img, err := elfx.Open(absPath)
		if err != nil {
			return fmt.Errorf("failed to open binary: %v", err)
		}
		defer img.Close()

		engine := analysis.NewEngine(img)
		if len(engine.Functions()) == 0 {
			return fmt.Errorf("no functions found in %s", args[0])
		}

		if noTUI {
			return runFunctionTable(engine)
		}

		initial, initialAddr, err := resolveInitialFunc(cmd, engine)
		if err != nil {
			return err
		}

		var stream *events.Stream
		if eventsPath, _ := cmd.Flags().GetString("events"); eventsPath != "" {
			stream, err = events.Follow(eventsPath)
			if err != nil {
				return fmt.Errorf("failed to follow event stream: %v", err)
			}
			defer stream.Stop()
		}

		sessionPath, _ := cmd.Flags().GetString("session")

		program := tea.NewProgram(
			container.New(container.Options{
				Engine:      engine,
				Binary:      absPath,
				Stream:      stream,
				SessionPath: sessionPath,
				InitialFunc: initial,
				InitialAddr: initialAddr,
			}),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	},
}

// resolveInitialFunc applies --function: a symbol name, a hex address,
// or empty for the lowest function in .text.
func resolveInitialFunc(cmd *cobra.Command, engine *analysis.Engine) (*viewloc.FuncRef, uint64, error) {
	spec, _ := cmd.Flags().GetString("function")
	if spec == "" {
		f := engine.Functions()[0]
		return f, f.Start, nil
	}
	if f, ok := engine.FuncByName(spec); ok {
		return f, f.Start, nil
	}
	var addr uint64
	if _, err := fmt.Sscanf(spec, "0x%x", &addr); err != nil {
		if _, err := fmt.Sscanf(spec, "%x", &addr); err != nil {
			return nil, 0, fmt.Errorf("no function named %q", spec)
		}
	}
	f, ok := engine.FuncAt(addr)
	if !ok {
		return nil, 0, fmt.Errorf("no function at %#x", addr)
	}
	return f, addr, nil
}

// runFunctionTable prints the function table, sorted by address.
func runFunctionTable(engine *analysis.Engine) error {
	funcs := engine.Functions()
	sorted := make([]*viewloc.FuncRef, len(funcs))
	copy(sorted, funcs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	fmt.Printf("%d functions\n\n", len(sorted))
	for _, f := range sorted {
		name := analysis.DisplayName(f)
		if name != f.Name {
			fmt.Printf("%12x  %6d  %s  (%s)\n", f.Start, f.End-f.Start, name, f.Name)
		} else {
			fmt.Printf("%12x  %6d  %s\n", f.Start, f.End-f.Start, name)
		}
	}

	// Summary of which representations the first function lifts to.
	if len(sorted) > 0 {
		f := sorted[0]
		if err := engine.Analyze(f, ilkind.LowLevelIL); err != nil {
			slog.Warn("lift failed", "func", f.Name, "error", err)
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug logging")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the function table without the TUI")
	rootCmd.Flags().StringP("function", "f", "", "Initial function, by name or hex address")
	rootCmd.Flags().StringP("session", "s", "", "Session file for navigation history")
	rootCmd.Flags().StringP("events", "e", "", "JSONL analysis event stream to follow")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.AddCommand(schemaCmd)
}

func Execute() {
	// Bypass fang's markdown rendering for non-interactive output.
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		if err := rootCmd.Execute(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}

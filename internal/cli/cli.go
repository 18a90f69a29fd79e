package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"esp-translator/internal/config"
	"esp-translator/internal/esp"
	"esp-translator/internal/exchange"
	"esp-translator/internal/filewalker"
	"esp-translator/internal/strtable"
	"esp-translator/internal/worker"
	"esp-translator/internal/workspace"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute runs the CLI application.
func Execute() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "esp-translator",
		Short: "Localization codec for Bethesda-style game plugins",
		Long:  "Extracts translatable text from ESP/ESM/ESL plugin files and their companion string tables, and writes translated copies back byte-preservingly.",
	}

	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(dumpStringsCmd())
	rootCmd.AddCommand(mergeContextCmd())
	rootCmd.AddCommand(initWorkspaceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func extractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <plugin-or-directory>",
		Short: "Extract translatable strings from plugins into TSV files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, _ := cmd.Flags().GetString("out-dir")
			language, _ := cmd.Flags().GetString("language")
			noFallback, _ := cmd.Flags().GetBool("no-fallback")
			root, err := workspaceRootFlag(cmd)
			if err != nil {
				return err
			}
			return runExtract(args[0], outDir, root, language, noFallback)
		},
	}

	cmd.Flags().String("out-dir", "", "Directory for TSV output (default: alongside each plugin)")
	cmd.Flags().String("language", "", "Companion string-table language (default from config)")
	cmd.Flags().String("workspace", "", "Workspace root override (default: derived from plugin path)")
	cmd.Flags().String("workspace-file", "", "Workspace definition file whose root_dir is used as the workspace root")
	cmd.Flags().Bool("no-fallback", false, "Fail instead of heuristically scanning unparseable plugins")

	return cmd
}

// workspaceRootFlag resolves the workspace root from --workspace or, failing
// that, from the root_dir of a --workspace-file. Empty means derive it from
// the plugin path.
func workspaceRootFlag(cmd *cobra.Command) (string, error) {
	root, _ := cmd.Flags().GetString("workspace")
	if root != "" {
		return root, nil
	}
	wsFile, _ := cmd.Flags().GetString("workspace-file")
	if wsFile == "" {
		return "", nil
	}
	ws, err := workspace.Load(wsFile)
	if err != nil {
		return "", err
	}
	log.Info().Str("workspace", ws.Name).Str("root", ws.RootDir).Msg("Using workspace definition")
	return ws.RootDir, nil
}

func applyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <plugin> <translations.tsv>",
		Short: "Apply edited translations and write a rewritten plugin copy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outDir, _ := cmd.Flags().GetString("output-dir")
			language, _ := cmd.Flags().GetString("language")
			root, err := workspaceRootFlag(cmd)
			if err != nil {
				return err
			}
			return runApply(args[0], args[1], outDir, root, language)
		},
	}

	cmd.Flags().String("output-dir", "", "Directory for the rewritten plugin (default: the plugin's directory)")
	cmd.Flags().String("language", "", "Companion string-table language (default from config)")
	cmd.Flags().String("workspace", "", "Workspace root override (default: derived from plugin path)")
	cmd.Flags().String("workspace-file", "", "Workspace definition file whose root_dir is used as the workspace root")

	return cmd
}

func mergeContextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge-context <xtplugin-file> <table-file>",
		Short: "Join an XTPLUGIN export with a string table into review TSV",
		Long:  "Pairs each entry of a pipe-delimited XTPLUGIN export with the matching string-table text by ID, producing TSV rows with the export's source context and the table's current text as target.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return runMergeContext(args[0], args[1], out)
		},
	}

	cmd.Flags().String("out", "", "TSV output path (default: stdout)")

	return cmd
}

func initWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-workspace <path>",
		Short: "Write a new workspace definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			game, _ := cmd.Flags().GetString("game")
			root, _ := cmd.Flags().GetString("root")
			return runInitWorkspace(args[0], name, game, root)
		},
	}

	cmd.Flags().String("name", "", "Workspace name (required)")
	cmd.Flags().String("game", string(workspace.GameSkyrimSE), "Target game (skyrim, skyrimse, fallout4, starfield)")
	cmd.Flags().String("root", ".", "Game data root directory")
	cmd.MarkFlagRequired("name")

	return cmd
}

func scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <plugin>",
		Short: "Heuristically extract null-terminated strings from a plugin",
		Long:  "Scans raw plugin bytes for null-terminated UTF-8 runs without parsing the container structure. Useful for files the structural parser rejects.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			minLen, _ := cmd.Flags().GetInt("min-length")
			return runScan(args[0], out, minLen)
		},
	}

	cmd.Flags().String("out", "", "TSV output path (default: stdout)")
	cmd.Flags().Int("min-length", 0, "Minimum string length in bytes (default from config)")

	return cmd
}

func dumpStringsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump-strings <table-file>",
		Short: "Dump a .strings/.dlstrings/.ilstrings table as TSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return runDumpStrings(args[0], out)
		},
	}

	cmd.Flags().String("out", "", "TSV output path (default: stdout)")

	return cmd
}

// setupContext creates a cancellable context with signal handling.
func setupContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Warn().Msg("Received shutdown signal, cancelling...")
		cancel()
	}()

	return ctx, cancel
}

// runExtract handles the `extract` command.
func runExtract(inputPath, outDir, workspaceOverride, language string, noFallback bool) error {
	ctx, cancel := setupContext()
	defer cancel()

	cfg := config.Load()
	if language == "" {
		language = cfg.Language
	}

	paths, err := filewalker.Walk(inputPath)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}
	if len(paths) == 0 {
		log.Warn().Str("input", inputPath).Msg("No plugin files found")
		return nil
	}

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	pool := worker.NewPool[string, []exchange.Row](cfg.WorkerCount,
		func(ctx context.Context, path string) ([]exchange.Row, error) {
			return extractRows(path, workspaceOverride, language, cfg.MinScanLength, noFallback)
		},
	)
	results := pool.Execute(ctx, paths)

	failed := 0
	for _, task := range results {
		if task.Err != nil {
			failed++
			continue
		}
		outPath := tsvPathFor(task.Input, outDir)
		if err := writeRows(outPath, task.Result); err != nil {
			return err
		}
		log.Info().
			Str("plugin", task.Input).
			Str("output", outPath).
			Int("strings", len(task.Result)).
			Msg("Extracted strings")
	}

	if failed > 0 {
		return fmt.Errorf("extraction failed for %d of %d plugins", failed, len(paths))
	}
	return nil
}

// extractRows extracts one plugin's strings as exchange rows, falling back to
// the heuristic byte scanner when the structural parse fails.
func extractRows(path, workspaceOverride, language string, minScanLength int, noFallback bool) ([]exchange.Row, error) {
	root := workspaceOverride
	if root == "" {
		root = workspace.RootFromPlugin(path)
	}

	extracted, err := esp.ExtractStrings(path, root, language)
	if err == nil {
		rows := make([]exchange.Row, 0, len(extracted))
		for _, s := range extracted {
			rows = append(rows, exchange.Row{Key: s.Key, Source: s.Text})
		}
		return rows, nil
	}
	if noFallback || !isStructuralParseError(err) {
		return nil, err
	}

	log.Warn().Err(err).Str("plugin", path).Msg("Structural parse failed, falling back to heuristic scan")
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		return nil, fmt.Errorf("read plugin: %w", readErr)
	}
	scanned := esp.ScanInlineStrings(data, minScanLength)
	rows := make([]exchange.Row, 0, len(scanned))
	for _, s := range scanned {
		rows = append(rows, exchange.Row{Key: esp.ScanKey(s.Offset), Source: s.Text})
	}
	return rows, nil
}

func isStructuralParseError(err error) bool {
	return errors.Is(err, esp.ErrInvalidHeader) ||
		errors.Is(err, esp.ErrInvalidRecord) ||
		errors.Is(err, esp.ErrInvalidGroup) ||
		errors.Is(err, esp.ErrInvalidSubrecord)
}

// runApply handles the `apply` command.
func runApply(pluginPath, tsvPath, outDir, workspaceOverride, language string) error {
	cfg := config.Load()
	if language == "" {
		language = cfg.Language
	}
	root := workspaceOverride
	if root == "" {
		root = workspace.RootFromPlugin(pluginPath)
	}
	if outDir == "" {
		outDir = filepath.Dir(pluginPath)
	}

	tsvFile, err := os.Open(tsvPath)
	if err != nil {
		return fmt.Errorf("open translations: %w", err)
	}
	rows, err := exchange.ReadTSV(tsvFile)
	tsvFile.Close()
	if err != nil {
		return err
	}

	targets := make(map[string]string, len(rows))
	for _, row := range rows {
		if row.Target != "" {
			targets[row.Key] = row.Target
		}
	}
	log.Info().Int("rows", len(rows)).Int("edits", len(targets)).Msg("Loaded translations")

	// Re-extract to recover storage metadata, then overlay the edited
	// targets by key.
	extracted, err := esp.ExtractStrings(pluginPath, root, language)
	if err != nil {
		return fmt.Errorf("extract for apply: %w", err)
	}
	edits := make([]esp.ExtractedString, 0, len(targets))
	for _, s := range extracted {
		if target, ok := targets[s.Key]; ok {
			s.Text = target
			edits = append(edits, s)
		}
	}

	if cfg.BackupOnSave {
		outputPath := filepath.Join(outDir, filepath.Base(pluginPath))
		if err := workspace.EnsureBackup(outputPath); err != nil {
			return err
		}
		for _, companion := range esp.CompanionPaths(pluginPath, root, language) {
			if err := workspace.EnsureBackup(companion); err != nil {
				return err
			}
		}
	}

	outputPath, err := esp.ApplyTranslations(pluginPath, root, outDir, edits, language)
	if err != nil {
		return fmt.Errorf("apply translations: %w", err)
	}

	log.Info().
		Str("input", pluginPath).
		Str("output", outputPath).
		Int("applied", len(edits)).
		Msg("Translations applied")
	return nil
}

// runScan handles the `scan` command.
func runScan(pluginPath, outPath string, minLength int) error {
	cfg := config.Load()
	if minLength <= 0 {
		minLength = cfg.MinScanLength
	}

	data, err := os.ReadFile(pluginPath)
	if err != nil {
		return fmt.Errorf("read plugin: %w", err)
	}
	scanned := esp.ScanInlineStrings(data, minLength)
	rows := make([]exchange.Row, 0, len(scanned))
	for _, s := range scanned {
		rows = append(rows, exchange.Row{Key: esp.ScanKey(s.Offset), Source: s.Text})
	}

	if err := writeRows(outPath, rows); err != nil {
		return err
	}
	log.Info().Str("plugin", pluginPath).Int("strings", len(rows)).Msg("Scan complete")
	return nil
}

// runMergeContext handles the `merge-context` command.
func runMergeContext(pluginExportPath, tablePath, outPath string) error {
	exportData, err := os.ReadFile(pluginExportPath)
	if err != nil {
		return fmt.Errorf("read plugin export: %w", err)
	}
	plugin, err := exchange.ReadPlugin(string(exportData))
	if err != nil {
		return err
	}

	kind, ok := strtable.KindFromExtension(filepath.Ext(tablePath))
	if !ok {
		return fmt.Errorf("not a string-table file: %s", tablePath)
	}
	tableData, err := os.ReadFile(tablePath)
	if err != nil {
		return fmt.Errorf("read table: %w", err)
	}
	table, err := strtable.Read(kind, tableData)
	if err != nil {
		return err
	}

	hybrid := exchange.BuildHybrid(plugin, table)
	rows := make([]exchange.Row, 0, len(hybrid))
	for _, e := range hybrid {
		rows = append(rows, exchange.Row{
			Key:    strconv.FormatUint(uint64(e.ID), 10),
			Source: e.Context,
			Target: e.TargetText,
		})
	}

	if err := writeRows(outPath, rows); err != nil {
		return err
	}
	log.Info().
		Int("export", len(plugin.Entries)).
		Int("table", len(table.Entries)).
		Int("matched", len(rows)).
		Msg("Context merged")
	return nil
}

// runInitWorkspace handles the `init-workspace` command.
func runInitWorkspace(path, name, game, root string) error {
	ws := &workspace.Workspace{
		Name:    name,
		Game:    workspace.Game(game),
		RootDir: root,
	}
	if err := ws.Save(path); err != nil {
		return err
	}
	log.Info().Str("file", path).Str("name", name).Str("game", game).Msg("Workspace created")
	return nil
}

// runDumpStrings handles the `dump-strings` command.
func runDumpStrings(tablePath, outPath string) error {
	kind, ok := strtable.KindFromExtension(filepath.Ext(tablePath))
	if !ok {
		return fmt.Errorf("not a string-table file: %s", tablePath)
	}

	data, err := os.ReadFile(tablePath)
	if err != nil {
		return fmt.Errorf("read table: %w", err)
	}
	file, err := strtable.Read(kind, data)
	if err != nil {
		return err
	}

	rows := make([]exchange.Row, 0, len(file.Entries))
	for _, e := range file.Entries {
		rows = append(rows, exchange.Row{Key: strconv.FormatUint(uint64(e.ID), 10), Source: e.Text})
	}

	if err := writeRows(outPath, rows); err != nil {
		return err
	}
	log.Info().Str("table", tablePath).Str("kind", kind.String()).Int("entries", len(rows)).Msg("Table dumped")
	return nil
}

// tsvPathFor picks the TSV output path for a plugin: <stem>.tsv either
// alongside the plugin or inside outDir.
func tsvPathFor(pluginPath, outDir string) string {
	stem := strings.TrimSuffix(filepath.Base(pluginPath), filepath.Ext(pluginPath))
	if outDir == "" {
		return filepath.Join(filepath.Dir(pluginPath), stem+".tsv")
	}
	return filepath.Join(outDir, stem+".tsv")
}

// writeRows writes exchange rows to a file, or stdout for an empty path.
func writeRows(outPath string, rows []exchange.Row) error {
	if outPath == "" || outPath == "-" {
		return exchange.WriteTSV(os.Stdout, rows)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := exchange.WriteTSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

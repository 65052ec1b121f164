package cli

import (
	"github.com/spf13/cobra"

	"content-router/src/internal/common"
	versionpkg "content-router/src/internal/version"
)

// CLI Constants
const (
	CmdServe          = "serve"
	CmdClassify       = "classify"
	CmdSelect         = "select"
	CmdStats          = "stats"
	CmdStatus         = "status"
	CmdConfig         = "config"
	CmdConfigInit     = "init"
	CmdConfigValidate = "validate"
	CmdConfigExport   = "export"
	CmdConfigImport   = "import"
	CmdVersion        = "version"
	FlagConfig        = "config"
	FlagPort          = "port"
	FlagServer        = "server"
	FlagOut           = "out"
	FlagFormat        = "format"
	FlagForce         = "force"
	FlagDryRun        = "dry-run"
	FlagVerbose       = "verbose"
	FlagJSON          = "json"
	FlagContentType   = "content-type"
	FlagSize          = "size"
	FlagStrategy      = "strategy"
	FlagPriority      = "priority"
	FlagRegion        = "region"
	FlagBackends      = "backends"
	FlagRoutingKey    = "routing-key"
	FlagDocument      = "document"
)

// CLI Variables
var (
	configPath   string
	port         int
	serverURL    string
	outPath      string
	format       string
	force        bool
	dryRun       bool
	verbose      bool
	formatJSON   bool
	contentType  string
	sizeBytes    int64
	strategyName string
	priorityName string
	region       string
	backendList  []string
	routingKey   string
	documentPath string
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "content-router",
	Short: "Content Router - picks a storage backend for every piece of content",
	Long: `Content Router classifies content and routes it to one of several storage
backends (IPFS, Filecoin, S3, Storacha, ...) using pluggable strategies that learn
from the outcomes of past operations.

QUICK START:
  content-router config init               # Write a default configuration
  content-router serve                     # Start the HTTP API (port 8090)
  content-router select movie.mp4          # Route one file offline

CORE FEATURES:
  - Content classification by MIME type, extension and size
  - Ten routing strategies, from round robin to adaptive multi-factor scoring
  - Per-category route mappings refreshed from observed backend health
  - Network-aware selection from latency and bandwidth measurements
  - Routing state export/import as versioned JSON or YAML documents
  - Optional SQLite or MongoDB persistence, Redis mapping cache, CloudEvents

AVAILABLE COMMANDS:

  Core Operations:
    content-router serve                   # Start REST and JSON-RPC API
    content-router classify <files...>     # Show content categories
    content-router select <file>           # Pick a backend without a server
    content-router status                  # Query a running router's health
    content-router stats [backend]         # Query backend statistics

  Configuration:
    content-router config init             # Write the default configuration
    content-router config validate         # Check a configuration file
    content-router config export           # Export routing state
    content-router config import <file>    # Import a routing document

INTEGRATION:
  - REST API under http://localhost:8090/api
  - JSON-RPC 2.0 endpoint at http://localhost:8090/jsonrpc

Use 'content-router <command> --help' for detailed command information.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command definitions
var (
	serveCmd = &cobra.Command{
		Use:     CmdServe,
		Aliases: []string{"server"},
		Short:   "Start the routing server",
		Long: `Start the content router with its REST API and JSON-RPC endpoint.

The configuration file, when one is used, is watched for changes. Edits to the
default strategy, regions, costs, custom routes and backends are applied without
a restart. Routing state is restored from and saved to the configured store.

Examples:
  content-router serve
  content-router serve --config router.yaml --port 9000`,
		RunE: runServeCmd,
	}

	classifyCmd = &cobra.Command{
		Use:   CmdClassify + " [files...]",
		Short: "Classify content",
		Long: `Print the content category of each named file. Nothing is read from disk;
the category comes from the name, the --content-type and the --size.

Examples:
  content-router classify song.mp3 weights.safetensors
  content-router classify --content-type video/mp4
  content-router classify blob.bin --size 512 --json`,
		RunE: runClassifyCmd,
	}

	selectCmd = &cobra.Command{
		Use:   CmdSelect + " [file]",
		Short: "Select a backend offline",
		Long: `Run one routing decision against an engine built from the configuration,
optionally seeded with an exported routing document. No server is needed.

Examples:
  content-router select movie.mp4 --size 734003200
  content-router select report.pdf --strategy cost
  content-router select data.parquet --document routing.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSelectCmd,
	}

	statsCmd = &cobra.Command{
		Use:   CmdStats + " [backend]",
		Short: "Show backend statistics from a running router",
		Long:  `Fetch statistics for every backend, or for one, from a running router.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatsCmd,
	}

	statusCmd = &cobra.Command{
		Use:   CmdStatus,
		Short: "Show the health of a running router",
		Long:  `Query the /health endpoint of a running router and print a summary.`,
		RunE:  runStatusCmd,
	}

	versionCmd = &cobra.Command{
		Use:   CmdVersion,
		Short: "Show version information",
		Long: `Display version information for Content Router.

Examples:
  content-router version              # Show version number
  content-router version --verbose    # Show detailed build information`,
		RunE: runVersionCmd,
	}

	configCmd = &cobra.Command{
		Use:   CmdConfig,
		Short: "Manage configuration and routing state",
		Long: `Manage the router configuration file and its routing state documents.

Available commands:
  content-router config init              # Write the default configuration
  content-router config validate          # Validate a configuration file
  content-router config export            # Export routing state
  content-router config import <file>     # Import a routing document

Export and import talk to a running router when --server is given and work on
the configured persistent store otherwise.`,
		RunE: runConfigCmd,
	}
)

// Config subcommands
var (
	configInitCmd = &cobra.Command{
		Use:   CmdConfigInit,
		Short: "Write the default configuration",
		Long:  `Write the default configuration to --out (default ~/.content-router/config.yaml).`,
		RunE:  runConfigInitCmd,
	}

	configValidateCmd = &cobra.Command{
		Use:   CmdConfigValidate,
		Short: "Validate a configuration file",
		RunE:  runConfigValidateCmd,
	}

	configExportCmd = &cobra.Command{
		Use:   CmdConfigExport,
		Short: "Export routing state",
		Long: `Export the routing state as a versioned document.

Examples:
  content-router config export --format yaml --out routing.yaml
  content-router config export --server http://127.0.0.1:8090`,
		RunE: runConfigExportCmd,
	}

	configImportCmd = &cobra.Command{
		Use:   CmdConfigImport + " <file>",
		Short: "Import a routing document",
		Long: `Validate and apply a routing document. With --dry-run the document is only
validated. Documents from a different major format version are rejected.

Examples:
  content-router config import routing.yaml --dry-run
  content-router config import routing.json --server http://127.0.0.1:8090`,
		Args: cobra.ExactArgs(1),
		RunE: runConfigImportCmd,
	}
)

func init() {
	// Serve command flags
	serveCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional, will use defaults if not provided)")
	serveCmd.Flags().IntVarP(&port, FlagPort, "p", 0, "Server port (overrides the configuration)")

	// Classify command flags
	classifyCmd.Flags().StringVar(&contentType, FlagContentType, "", "MIME type of the content")
	classifyCmd.Flags().Int64Var(&sizeBytes, FlagSize, 0, "Content size in bytes")
	classifyCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "Output in JSON format")

	// Select command flags
	selectCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")
	selectCmd.Flags().StringVar(&contentType, FlagContentType, "", "MIME type of the content")
	selectCmd.Flags().Int64Var(&sizeBytes, FlagSize, 0, "Content size in bytes")
	selectCmd.Flags().StringVarP(&strategyName, FlagStrategy, "s", "", "Routing strategy (default from configuration)")
	selectCmd.Flags().StringVar(&priorityName, FlagPriority, "", "Priority: balanced, performance, cost, reliability or locality")
	selectCmd.Flags().StringVar(&region, FlagRegion, "", "Client region")
	selectCmd.Flags().StringSliceVar(&backendList, FlagBackends, nil, "Restrict selection to these backends")
	selectCmd.Flags().StringVar(&routingKey, FlagRoutingKey, "", "Routing key for custom routes")
	selectCmd.Flags().StringVarP(&documentPath, FlagDocument, "d", "", "Routing document to load before selecting")
	selectCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "Output the full decision as JSON")

	// Remote query flags
	statsCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")
	statsCmd.Flags().StringVar(&serverURL, FlagServer, "", "Router URL (default from configuration)")
	statusCmd.Flags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")
	statusCmd.Flags().StringVar(&serverURL, FlagServer, "", "Router URL (default from configuration)")

	// Version command flags
	versionCmd.Flags().BoolVarP(&verbose, FlagVerbose, "v", false, "Show detailed version information")

	// Config command flags
	configCmd.PersistentFlags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")
	configInitCmd.Flags().StringVarP(&outPath, FlagOut, "o", "", "Where to write the configuration")
	configInitCmd.Flags().BoolVarP(&force, FlagForce, "f", false, "Overwrite an existing file")
	configExportCmd.Flags().StringVar(&serverURL, FlagServer, "", "Export from a running router")
	configExportCmd.Flags().StringVar(&format, FlagFormat, "json", "Document format: json or yaml")
	configExportCmd.Flags().StringVarP(&outPath, FlagOut, "o", "", "Write to a file instead of stdout")
	configImportCmd.Flags().StringVar(&serverURL, FlagServer, "", "Import into a running router")
	configImportCmd.Flags().BoolVar(&dryRun, FlagDryRun, false, "Validate without applying")

	// Config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)

	// Add commands to root
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Command runner functions

func runServeCmd(cmd *cobra.Command, args []string) error {
	return RunServer(configPath, port)
}

func runClassifyCmd(cmd *cobra.Command, args []string) error {
	return RunClassify(cmd.OutOrStdout(), args, contentType, sizeBytes, formatJSON)
}

func runSelectCmd(cmd *cobra.Command, args []string) error {
	req := SelectInput{
		ContentType:  contentType,
		SizeBytes:    sizeBytes,
		Strategy:     strategyName,
		Priority:     priorityName,
		Region:       region,
		Backends:     backendList,
		RoutingKey:   routingKey,
		DocumentPath: documentPath,
	}
	if len(args) == 1 {
		req.Filename = args[0]
	}
	return RunSelect(cmd.OutOrStdout(), configPath, req, formatJSON)
}

func runStatsCmd(cmd *cobra.Command, args []string) error {
	backend := ""
	if len(args) == 1 {
		backend = args[0]
	}
	return ShowStats(cmd.Context(), cmd.OutOrStdout(), resolveServerURL(configPath, serverURL), backend)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	return ShowStatus(cmd.Context(), cmd.OutOrStdout(), resolveServerURL(configPath, serverURL))
}

func runVersionCmd(cmd *cobra.Command, args []string) error {
	if verbose {
		common.CLILogger.Info("%s", versionpkg.GetFullVersionInfo())
		return nil
	}
	common.CLILogger.Info("content-router %s", versionpkg.GetVersion())
	return nil
}

// Config command runners
func runConfigCmd(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}

func runConfigInitCmd(cmd *cobra.Command, args []string) error {
	return InitConfig(outPath, force)
}

func runConfigValidateCmd(cmd *cobra.Command, args []string) error {
	return ValidateConfig(cmd.OutOrStdout(), configPath)
}

func runConfigExportCmd(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return ExportRemote(cmd.Context(), cmd.OutOrStdout(), serverURL, format, outPath)
	}
	return ExportLocal(cmd.Context(), cmd.OutOrStdout(), configPath, format, outPath)
}

func runConfigImportCmd(cmd *cobra.Command, args []string) error {
	if serverURL != "" {
		return ImportRemote(cmd.Context(), cmd.OutOrStdout(), serverURL, args[0], dryRun)
	}
	return ImportLocal(cmd.Context(), cmd.OutOrStdout(), configPath, args[0], dryRun)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

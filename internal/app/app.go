package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "import":
		return runImport(args[1:])
	case "build-model":
		return runBuildModel(args[1:])
	case "inspect-model":
		return runInspectModel(args[1:])
	case "recommend":
		return runRecommend(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "eventrec CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  eventrec <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health         Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  migrate        Apply the schema and print table counts")
	fmt.Fprintln(os.Stderr, "  validate       Validate event/interaction JSON files against the import schema")
	fmt.Fprintln(os.Stderr, "  import         Load event/interaction JSON files into the database")
	fmt.Fprintln(os.Stderr, "  build-model    Rebuild the similarity model artifact from the catalog")
	fmt.Fprintln(os.Stderr, "  inspect-model  Show the shape of a similarity model artifact")
	fmt.Fprintln(os.Stderr, "  recommend      Print recommendations for one user")
	fmt.Fprintln(os.Stderr, "  serve          Start the Echo API server with model reload and rebuild jobs")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"eventrec <command> -h\" for command-specific flags.")
}

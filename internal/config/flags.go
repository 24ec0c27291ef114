package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/snapvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-dry-run      print the stage plan and exit without side effects
//	-s string     staging directory override
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-dry-run", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "print the stage plan without running anything")
	fs.StringVar(&cfg.Backup.StagingLocation, "s", cfg.Backup.StagingLocation, "staging directory")

	_ = fs.Parse(args)
}

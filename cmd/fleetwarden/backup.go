package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HerbHall/fleetwarden/internal/backup"
	"github.com/HerbHall/fleetwarden/internal/server"
)

// runBackup implements the "fleetwarden backup" subcommand.
func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	output := fs.String("output", "fleetwarden-backup.tar.gz", "path for the backup archive")
	_ = fs.Parse(args)

	viperCfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbPath := viperCfg.GetString("database.dsn")
	cfgFile := viperCfg.ConfigFileUsed()

	if err := backup.Backup(context.Background(), dbPath, cfgFile, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("backup written to %s\n", *output)
}

// runRestore implements the "fleetwarden restore" subcommand.
func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	target := fs.String("target", ".", "directory to restore into")
	force := fs.Bool("force", false, "overwrite existing files")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: fleetwarden restore [flags] <archive>")
		os.Exit(1)
	}
	archivePath := fs.Arg(0)

	if err := backup.Restore(context.Background(), archivePath, *target, *force); err != nil {
		fmt.Fprintf(os.Stderr, "restore failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("restored %s into %s\n", archivePath, *target)
}

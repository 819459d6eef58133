package main

import (
	"github.com/spf13/cobra"
)

// --- Global flags ---
var (
	configPath  string
	storeDriver string
	seedPath    string

	detectUser string
	detectTrip string

	matchUser    string
	matchTrip    string
	matchLimit   int
	matchViaNATS bool

	overlapUser      string
	overlapID        string
	includeDismissed bool

	changedTrip string
	changedUser string

	rootCmd = &cobra.Command{
		Use:          "engine",
		Short:        "Climbing partner matching and trip overlap engine",
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler, NATS handlers and metrics endpoint until interrupted",
		RunE:  runServe, // serve.go
	}

	// --- Schema ---
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE:  runMigrateUp, // cmd_store.go
	}
	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "DANGER: roll back every migration and drop all engine tables",
		RunE:  runMigrateDown, // cmd_store.go
	}
	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE:  runMigrateVersion, // cmd_store.go
	}
	seedCmd = &cobra.Command{
		Use:   "seed [fixture.yaml]",
		Short: "Load users, trips and the social graph from a YAML fixture",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed, // cmd_store.go
	}

	// --- Overlaps ---
	detectCmd = &cobra.Command{
		Use:   "detect",
		Short: "Run overlap detection for one user, one trip, or everyone",
		RunE:  runDetect, // cmd_overlap.go
	}
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Delete overlaps that ended before the retention window",
		RunE:  runCleanup, // cmd_overlap.go
	}
	overlapsCmd = &cobra.Command{
		Use:   "overlaps",
		Short: "Inspect and dismiss a user's overlaps",
	}
	overlapsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List a user's current overlaps, highest score first",
		RunE:  runOverlapsList, // cmd_overlap.go
	}
	overlapsDismissCmd = &cobra.Command{
		Use:   "dismiss",
		Short: "Hide an overlap from one participant's list",
		RunE:  runOverlapsDismiss, // cmd_overlap.go
	}
	overlapsUndismissCmd = &cobra.Command{
		Use:   "undismiss",
		Short: "Show a dismissed overlap again",
		RunE:  runOverlapsUndismiss, // cmd_overlap.go
	}
	tripChangedCmd = &cobra.Command{
		Use:   "trip-changed",
		Short: "Publish a trip.changed event to NATS",
		RunE:  runTripChanged, // cmd_overlap.go
	}

	// --- Matching ---
	matchesCmd = &cobra.Command{
		Use:   "matches",
		Short: "Print the ranked partner list for a user's trip",
		RunE:  runMatches, // cmd_match.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Override store.driver: 'postgres' or 'memory'")
	rootCmd.PersistentFlags().StringVar(&seedPath, "seed", "", "Fixture to load into the store at startup (memory store only)")

	detectCmd.Flags().StringVar(&detectUser, "user", "", "Detect for every trip of this user")
	detectCmd.Flags().StringVar(&detectTrip, "trip", "", "Detect for this trip only")
	detectCmd.MarkFlagsMutuallyExclusive("user", "trip")

	matchesCmd.Flags().StringVar(&matchUser, "user", "", "Viewer user id")
	matchesCmd.Flags().StringVar(&matchTrip, "trip", "", "Trip id (defaults to the viewer's active trip)")
	matchesCmd.Flags().IntVar(&matchLimit, "limit", 0, "Maximum number of results (0 uses matching.default_limit)")
	matchesCmd.Flags().BoolVar(&matchViaNATS, "via-nats", false, "Ask a running engine over NATS instead of computing locally")
	_ = matchesCmd.MarkFlagRequired("user")

	for _, c := range []*cobra.Command{overlapsListCmd, overlapsDismissCmd, overlapsUndismissCmd} {
		c.Flags().StringVar(&overlapUser, "user", "", "Acting user id")
		_ = c.MarkFlagRequired("user")
	}
	overlapsListCmd.Flags().BoolVar(&includeDismissed, "include-dismissed", false, "Also list overlaps the user dismissed")
	for _, c := range []*cobra.Command{overlapsDismissCmd, overlapsUndismissCmd} {
		c.Flags().StringVar(&overlapID, "id", "", "Overlap id")
		_ = c.MarkFlagRequired("id")
	}

	tripChangedCmd.Flags().StringVar(&changedTrip, "trip", "", "Changed trip id")
	tripChangedCmd.Flags().StringVar(&changedUser, "user", "", "Trip owner id")
	_ = tripChangedCmd.MarkFlagRequired("trip")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	overlapsCmd.AddCommand(overlapsListCmd, overlapsDismissCmd, overlapsUndismissCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, detectCmd, cleanupCmd, overlapsCmd, tripChangedCmd, matchesCmd)
}

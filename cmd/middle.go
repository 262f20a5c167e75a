package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/go-osm/middle/internal/logger"
	"github.com/go-osm/middle/internal/middle"
)

var (
	middleDropExisting bool
	middleConnInfo     string
	middleScale        int64
	middleCacheMB      int
)

var middleCmd = &cobra.Command{
	Use:   "middle",
	Short: "Operate on the middle tables directly, without running a full import",
	Long: `middle exercises the middle storage layer in isolation: creating/dropping
the raw node/way/relation tables, committing open per-table transactions,
and building the dependency indexes. Useful for operational debugging
against a database that already has an import's worth of slim tables.`,
}

func init() {
	rootCmd.AddCommand(middleCmd)

	middleCmd.PersistentFlags().StringVar(&middleConnInfo, "conninfo", "", "Raw libpq conninfo string (overrides --db-* flags)")
	middleCmd.PersistentFlags().Int64Var(&middleScale, "scale", 0, "Fixed-point divisor for node coordinates (0 = use config default)")
	middleCmd.PersistentFlags().IntVar(&middleCacheMB, "cache-mb", 0, "RAM node cache budget in MB (0 = use config default)")

	middleStartCmd.Flags().BoolVar(&middleDropExisting, "drop-existing", false, "Drop existing middle tables before creating them")
	middleCmd.AddCommand(middleStartCmd)
	middleCmd.AddCommand(middleStopCmd)
	middleCmd.AddCommand(middleAnalyzeCmd)
}

var middleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Create the middle tables (if missing) and open per-table backend connections",
	Run:   runMiddleStart,
}

var middleStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Either drop the middle tables or build their dependency indexes, then release connections",
	Run:   runMiddleStop,
}

var middleAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run ANALYZE on the middle tables",
	Run:   runMiddleAnalyze,
}

func applyMiddleFlags() {
	if middleConnInfo != "" {
		cfg.DBConnInfo = middleConnInfo
	}
	if middleScale > 0 {
		cfg.Scale = middleScale
	}
	if middleCacheMB > 0 {
		cfg.MemoryMB = middleCacheMB
	}
}

func newMiddlePool(ctx context.Context) *pgxpool.Pool {
	applyMiddleFlags()
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		exitWithError("invalid connection string", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		exitWithError("failed to connect to PostgreSQL", err)
	}
	return pool
}

func runMiddleStart(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	pool := newMiddlePool(ctx)
	defer pool.Close()

	store := middle.NewMiddleStore(cfg, pool)
	if err := store.EnsureTables(ctx, middleDropExisting); err != nil {
		exitWithError("failed to start middle tables", err)
	}

	log.Info("Middle tables ready",
		zap.Bool("drop_existing", middleDropExisting),
		zap.String("database", fmt.Sprintf("%s:%d/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)))
}

func runMiddleStop(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	pool := newMiddlePool(ctx)
	defer pool.Close()

	store := middle.NewMiddleStore(cfg, pool)
	if err := store.EnsureTables(ctx, false); err != nil {
		exitWithError("failed to open middle tables", err)
	}
	if err := store.Stop(ctx); err != nil {
		exitWithError("failed to stop middle store", err)
	}

	log.Info("Middle store stopped", zap.Bool("dropped", cfg.DropMiddle))
}

func runMiddleAnalyze(cmd *cobra.Command, args []string) {
	log := logger.Get()
	ctx := context.Background()

	pool := newMiddlePool(ctx)
	defer pool.Close()

	store := middle.NewMiddleStore(cfg, pool)
	if err := store.EnsureTables(ctx, false); err != nil {
		exitWithError("failed to open middle tables", err)
	}
	if err := store.Analyze(ctx); err != nil {
		exitWithError("failed to analyze middle tables", err)
	}

	log.Info("Middle tables analyzed")
}

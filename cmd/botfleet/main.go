package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/botfleet/botfleet/pkg/config"
	"github.com/botfleet/botfleet/pkg/history"
	"github.com/botfleet/botfleet/pkg/log"
	"github.com/botfleet/botfleet/pkg/metrics"
	"github.com/botfleet/botfleet/pkg/migrate"
	"github.com/botfleet/botfleet/pkg/pipeline"
	"github.com/botfleet/botfleet/pkg/probe"
	"github.com/botfleet/botfleet/pkg/provision"
	"github.com/botfleet/botfleet/pkg/runtime"
	"github.com/botfleet/botfleet/pkg/snapshot"
	"github.com/botfleet/botfleet/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "botfleet",
	Short: "Botfleet - Multi-tenant bot deployment orchestrator",
	Long: `Botfleet deploys containerized bot services for many tenants onto a
single host, provisioning each tenant an isolated database on a shared
Postgres server and rolling back automatically when a deploy goes bad.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Botfleet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
}

// loadSettings parses environment settings and initializes logging from them.
func loadSettings() (config.Settings, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return config.Settings{}, err
	}
	log.Init(log.Config{
		Level:      log.Level(settings.LogLevel),
		JSONOutput: settings.LogJSON,
	})
	return settings, nil
}

func fleetPath(settings config.Settings, flag string) string {
	if flag != "" {
		return flag
	}
	return filepath.Join(settings.StateDir, "tenants.yaml")
}

// Deploy command

var deployCmd = &cobra.Command{
	Use:   "deploy TENANT",
	Short: "Deploy a tenant's bot service",
	Long: `Deploy runs the full pipeline for one tenant: snapshot the current
deployment, stop the old instance, provision the tenant's database,
reconcile schema migrations, start the new instance, and verify its
health. A failed deploy rolls back to the snapshot.

Exit codes: 0 deployed, 1 failed, 2 failed and rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := args[0]
		image, _ := cmd.Flags().GetString("image")
		secret, _ := cmd.Flags().GetString("secret")
		mode, _ := cmd.Flags().GetString("mode")
		fleetFile, _ := cmd.Flags().GetString("fleet-file")

		settings, err := loadSettings()
		if err != nil {
			return err
		}
		fleet, err := config.LoadFleet(fleetPath(settings, fleetFile))
		if err != nil {
			return err
		}

		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return fmt.Errorf("connect to container runtime: %v", err)
		}

		prober := probe.New(settings.AdminConnString(), rt)
		sql := &provision.PgClient{
			Host:     settings.DBHost,
			Port:     settings.DBPort,
			User:     settings.DBAdminUser,
			Password: settings.DBAdminPassword,
		}
		prov := provision.New(sql, rt, prober, settings.ServerContainer)
		recon := migrate.NewReconciler(sql)
		snaps := snapshot.NewStore(settings.StateDir)

		p := pipeline.New(rt, prov, recon, snaps, prober, settings, fleet)

		// Attempt history is best-effort: a locked or broken database must
		// not block a deploy.
		hist, err := history.Open(settings.StateDir)
		if err != nil {
			log.Warn("attempt history unavailable: " + err.Error())
		} else {
			defer hist.Close()
			p.History = hist
		}

		result := p.Run(cmd.Context(), config.DeployRequest{
			Tenant: tenant,
			Image:  image,
			Secret: secret,
			Mode:   types.Mode(mode),
		})

		switch result.Attempt.Final {
		case types.StateSucceeded:
			fmt.Printf("✓ Deployed %s to %s\n", image, tenant)
		case types.StateRolledBack:
			fmt.Fprintf(os.Stderr, "✗ Deploy failed in %s, rolled back: %v\n",
				result.Attempt.FailedIn, result.Err)
		default:
			fmt.Fprintf(os.Stderr, "✗ Deploy failed in %s: %v\n",
				result.Attempt.FailedIn, result.Err)
		}

		if code := result.ExitCode(); code != pipeline.ExitSucceeded {
			if hist != nil {
				hist.Close()
			}
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	deployCmd.Flags().String("image", "", "Container image reference to deploy")
	deployCmd.Flags().String("secret", "", "Bot credential handed to the service")
	deployCmd.Flags().String("mode", "production", "Deployment mode (production|staging)")
	deployCmd.Flags().String("fleet-file", "", "Path to tenants.yaml (default: <state-dir>/tenants.yaml)")
	deployCmd.MarkFlagRequired("image")
	deployCmd.MarkFlagRequired("secret")
}

// Provision command

var provisionCmd = &cobra.Command{
	Use:   "provision TENANT",
	Short: "Provision a tenant's database without deploying",
	Long: `Provision ensures the shared database server is running and the
tenant's database, role, and grants exist, then reconciles the schema
to head. Safe to re-run; an existing tenant is left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := args[0]
		secret, _ := cmd.Flags().GetString("secret")

		if !types.ValidName(tenant) {
			return fmt.Errorf("invalid tenant name %q", tenant)
		}

		settings, err := loadSettings()
		if err != nil {
			return err
		}
		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			return fmt.Errorf("connect to container runtime: %v", err)
		}

		prober := probe.New(settings.AdminConnString(), rt)
		sql := &provision.PgClient{
			Host:     settings.DBHost,
			Port:     settings.DBPort,
			User:     settings.DBAdminUser,
			Password: settings.DBAdminPassword,
		}
		prov := provision.New(sql, rt, prober, settings.ServerContainer)

		id := types.TenantIdentity{Name: tenant, CredentialSecret: secret}
		ctx := cmd.Context()

		if err := prov.EnsureServerRunning(ctx); err != nil {
			return err
		}
		if err := prov.EnsureTenantDatabase(ctx, id); err != nil {
			return err
		}

		recon := migrate.NewReconciler(sql)
		state, err := recon.ComputeState(ctx, id)
		if err != nil {
			return err
		}
		if err := recon.Reconcile(ctx, id, state); err != nil {
			return err
		}
		if err := prov.EnsureTableAccess(ctx, id); err != nil {
			return err
		}

		fmt.Printf("✓ Tenant '%s' provisioned (database %s)\n", tenant, id.DatabaseName())
		metrics.TenantsProvisioned.Inc()
		return nil
	},
}

func init() {
	provisionCmd.Flags().String("secret", "", "Credential for the tenant's database role")
	provisionCmd.MarkFlagRequired("secret")
}

// History command

var historyCmd = &cobra.Command{
	Use:   "history TENANT",
	Short: "Show a tenant's deployment attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := args[0]

		settings, err := loadSettings()
		if err != nil {
			return err
		}
		hist, err := history.Open(settings.StateDir)
		if err != nil {
			return err
		}
		defer hist.Close()

		attempts, err := hist.ListByTenant(tenant)
		if err != nil {
			return err
		}
		if len(attempts) == 0 {
			fmt.Printf("No deployment attempts recorded for '%s'\n", tenant)
			return nil
		}

		fmt.Printf("%-25s %-40s %-12s %-15s %s\n", "STARTED", "IMAGE", "MODE", "FINAL", "FAILED IN")
		for _, a := range attempts {
			failedIn := "-"
			if a.FailedIn != "" {
				failedIn = string(a.FailedIn)
			}
			fmt.Printf("%-25s %-40s %-12s %-15s %s\n",
				a.StartedAt.Format(time.RFC3339), a.Image, a.Mode, a.Final, failedIn)
		}
		return nil
	},
	Args: cobra.ExactArgs(1),
}

// Status command

var statusCmd = &cobra.Command{
	Use:   "status [TENANT]",
	Short: "Check shared infrastructure readiness",
	Long: `Status probes the container runtime and the shared database server
and reports whether each is reachable. With a tenant name it also shows
the tenant's last deployment attempt and retained rollback snapshot.
Read-only; nothing is started.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		ok := true

		rt, err := runtime.NewDockerRuntime()
		if err != nil {
			fmt.Println("✗ Container runtime: unreachable")
			ok = false
		} else {
			prober := probe.New(settings.AdminConnString(), rt)
			if prober.RuntimeReady(ctx) {
				fmt.Println("✓ Container runtime: ready")
			} else {
				fmt.Println("✗ Container runtime: not responding")
				ok = false
			}
			if prober.DatabaseReady(ctx) {
				fmt.Println("✓ Database server: ready")
			} else {
				fmt.Println("✗ Database server: not accepting connections")
				ok = false
			}
		}

		if len(args) == 1 {
			if err := printTenantStatus(settings, args[0]); err != nil {
				return err
			}
		}

		if !ok {
			os.Exit(1)
		}
		return nil
	},
}

func printTenantStatus(settings config.Settings, tenant string) error {
	hist, err := history.Open(settings.StateDir)
	if err != nil {
		return err
	}
	defer hist.Close()

	last, found, err := hist.Latest(tenant)
	if err != nil {
		return err
	}
	if !found {
		fmt.Printf("Tenant '%s': no deployment attempts recorded\n", tenant)
	} else {
		fmt.Printf("Tenant '%s': last deploy %s (%s) finished %s\n",
			tenant, last.Image, last.Final, last.FinishedAt.Format(time.RFC3339))
	}

	snap, found, err := snapshot.NewStore(settings.StateDir).Latest(tenant)
	if err != nil {
		return err
	}
	switch {
	case !found:
		fmt.Println("  Rollback snapshot: none")
	case snap.Image == "":
		fmt.Printf("  Rollback snapshot: taken %s (nothing was running)\n",
			snap.Timestamp.Format(time.RFC3339))
	default:
		fmt.Printf("  Rollback snapshot: %s, taken %s\n",
			snap.Image, snap.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// Metrics command

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Serve Prometheus metrics over HTTP",
	Long: `Metrics exposes the process's Prometheus registry on /metrics. Meant
for long-lived wrappers that invoke deploys in-process; one-shot CLI
runs rarely need it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")

		if _, err := loadSettings(); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())

		server := &http.Server{Addr: addr, Handler: mux}
		go func() {
			<-cmd.Context().Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()

		fmt.Printf("Serving metrics on %s/metrics\n", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	metricsCmd.Flags().String("listen", "127.0.0.1:9090", "Listen address for the metrics endpoint")
}

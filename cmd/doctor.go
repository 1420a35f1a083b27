package cmd

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawden/internal/config"
	"github.com/nextlevelbuilder/clawden/internal/diagnose"
	"github.com/nextlevelbuilder/clawden/internal/sandbox"
	"github.com/nextlevelbuilder/clawden/internal/store"
	"github.com/nextlevelbuilder/clawden/internal/workspace"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("clawden doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  Config:   LOAD FAILED (%s)\n", err)
		return
	}
	fmt.Printf("  Config:   OK\n")
	fmt.Printf("  Home:     %s\n", cfg.Home)
	fmt.Println()

	fmt.Println("  Credentials:")
	switch {
	case cfg.Credentials.APIKey != "":
		fmt.Printf("    %-12s configured (%s)\n", "API key:", config.EnvAPIKey)
	case cfg.Credentials.OAuthToken != "":
		fmt.Printf("    %-12s configured (%s)\n", "OAuth:", config.EnvOAuthToken)
	default:
		fmt.Printf("    %-12s NOT CONFIGURED — set %s or %s\n", "Upstream:", config.EnvAPIKey, config.EnvOAuthToken)
	}
	fmt.Println()

	fmt.Println("  Gateway:")
	if cfg.Gateway.Socket != "" {
		fmt.Printf("    %-12s unix %s\n", "Binding:", cfg.Gateway.Socket)
	} else {
		fmt.Printf("    %-12s tcp %s (bearer auth)\n", "Binding:", cfg.Gateway.Addr)
	}
	fmt.Println()

	fmt.Println("  Sandbox:")
	sb, err := sandbox.NewManager(cfg.Sandbox.Backend, cfg.Sandbox.Image)
	if err != nil {
		fmt.Printf("    %-12s UNAVAILABLE (%s)\n", "Backend:", err)
	} else {
		fmt.Printf("    %-12s %s\n", "Backend:", sb.Backend())
		if sb.Backend() == "subprocess" && cfg.Sandbox.Backend == "auto" {
			fmt.Printf("    %-12s no isolation backend found, falling back to plain subprocess\n", "Warning:")
		}
	}
	fmt.Println()

	fmt.Println("  Storage:")
	ws, err := workspace.NewManager(cfg.Home)
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Root:", err)
		return
	}
	dataDir, err := ws.DataDir()
	if err != nil {
		fmt.Printf("    %-12s FAILED (%s)\n", "Data dir:", err)
		return
	}
	dbPath := filepath.Join(dataDir, "clawden.db")
	if st, err := store.Open(dbPath); err != nil {
		fmt.Printf("    %-12s OPEN FAILED (%s)\n", "Store:", diagnose.Describe(err))
	} else {
		st.Close()
		fmt.Printf("    %-12s %s (OK)\n", "Store:", dbPath)
	}

	checkSocket("Proxy:", cfg.Proxy.Socket)
	if cfg.Gateway.Socket != "" {
		checkSocket("Gateway:", cfg.Gateway.Socket)
	}
}

// checkSocket reports whether a host socket is live, stale, or absent.
func checkSocket(label, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Printf("    %-12s %s (not running)\n", label, path)
		return
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		fmt.Printf("    %-12s %s (STALE — %s)\n", label, path, diagnose.Describe(err))
		return
	}
	conn.Close()
	fmt.Printf("    %-12s %s (live)\n", label, path)
}

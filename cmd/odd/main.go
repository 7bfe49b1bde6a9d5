package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orderdeck/orderdeck/internal/ui"
)

var (
	serverURL string
	authToken string
	tenantID  string
	callerID  string
	role      string
)

func defaultServerURL() string {
	if s := os.Getenv("ODD_SERVER"); s != "" {
		return s
	}
	if r := activeRemote(); r != nil && r.URL != "" {
		return r.URL
	}
	return "http://localhost:8080"
}

func defaultAuthToken() string {
	if s := os.Getenv("ODD_AUTH_TOKEN"); s != "" {
		return s
	}
	if r := activeRemote(); r != nil {
		return r.Token
	}
	return ""
}

func defaultTenant() string {
	if s := os.Getenv("ODD_TENANT"); s != "" {
		return s
	}
	if r := activeRemote(); r != nil {
		return r.Tenant
	}
	return ""
}

var rootCmd = &cobra.Command{
	Use:   "odd <command>",
	Short: "orderdeck real-time event distribution service",
}

func main() {
	if !ui.ShouldUseColor() {
		ui.ForceNoColor()
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "server base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", defaultAuthToken(), "bearer token")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", defaultTenant(), "tenant scope")
	rootCmd.PersistentFlags().StringVar(&callerID, "caller", "cli", "caller identity")
	rootCmd.PersistentFlags().StringVar(&role, "role", "manager", "caller role")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(remoteCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command replica is a device-side sync client. It keeps a local SQLite
// replica of an agent's data and reconciles it with the sync server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prudhvinik1/offlinesync/internal/client"
	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/services"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	flagConfigDir string
	flagVerbose   bool

	cfg *viper.Viper
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "replica",
	Short:         "Offline-first sync client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			log.SetLevel(log.DebugLevel)
		}
		var err error
		cfg, err = loadConfig(flagConfigDir)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", ".", "directory holding replica.yaml and the default database")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	loginCmd.Flags().String("email", "", "agent email")
	loginCmd.Flags().String("password", "", "agent password")
	loginCmd.Flags().String("device", "", "device id (default: hostname)")
	loginCmd.Flags().String("server", "", "server URL")
	loginCmd.MarkFlagRequired("email")
	loginCmd.MarkFlagRequired("password")

	watchCmd.Flags().Duration("interval", 30*time.Second, "time between sync rounds")

	putCmd.Flags().String("id", "", "record id to replace (default: new record)")
	putCmd.Flags().String("title", "", "record title")
	putCmd.Flags().String("description", "", "record description")
	putCmd.Flags().String("data", "", "record payload")
	putCmd.MarkFlagRequired("title")

	listCmd.Flags().String("kind", string(models.KindOwnedRecord), "entity kind: owned_record, attachment, global or catalog")
	listCmd.Flags().Bool("deleted", false, "include tombstones")

	rootCmd.AddCommand(loginCmd, syncCmd, watchCmd, putCmd, deleteCmd, listCmd)
}

// openAgent opens the local replica and a sync driver for the logged in
// identity. The caller closes the returned store.
func openAgent(ctx context.Context) (*client.Agent, client.ReplicaStore, error) {
	id, err := loggedIn(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := client.OpenSQLiteStore(ctx, cfg.GetString(cfgKeyDBPath))
	if err != nil {
		return nil, nil, err
	}
	transport := client.NewHTTPTransport(cfg.GetString(cfgKeyServer), id.token)
	return client.NewAgent(store, transport, id.agentID, id.deviceID, cfg.GetInt(cfgKeyPageSize)), store, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the device token",
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		device, _ := cmd.Flags().GetString("device")
		if server, _ := cmd.Flags().GetString("server"); server != "" {
			cfg.Set(cfgKeyServer, server)
		}
		if device == "" {
			device = cfg.GetString(cfgKeyDeviceID)
		}
		if device == "" {
			host, err := os.Hostname()
			if err != nil {
				return fmt.Errorf("no --device given and hostname unavailable: %w", err)
			}
			device = host
		}

		transport := client.NewHTTPTransport(cfg.GetString(cfgKeyServer), "")
		resp, err := transport.Login(cmd.Context(), services.LoginRequest{Email: email, Password: password, DeviceID: device})
		if err != nil {
			return err
		}

		cfg.Set(cfgKeyToken, resp.Token)
		cfg.Set(cfgKeyAgentID, resp.AgentID.String())
		cfg.Set(cfgKeyDeviceID, resp.DeviceID)
		if err := saveConfig(cfg, flagConfigDir); err != nil {
			return err
		}
		fmt.Printf("Logged in as %s on device %s (token expires %s)\n", resp.AgentID, resp.DeviceID, resp.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync round",
	RunE: func(cmd *cobra.Command, args []string) error {
		agent, store, err := openAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := agent.Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Pushed %d, pulled %d over %d page(s); now at version %d\n", res.Pushed, res.Pulled, res.Pages, res.Version)
		for _, r := range res.Rejected {
			fmt.Printf("Rejected %s %s: %s\n", r.Kind, r.ID, r.Reason)
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		agent, store, err := openAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		log.Info("Watching", "interval", interval)
		if err := agent.Run(ctx, interval); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Create or replace a record locally",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := &models.OwnedRecord{}
		if idStr, _ := cmd.Flags().GetString("id"); idStr != "" {
			id, err := uuid.Parse(idStr)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			rec.ID = id
		}
		rec.Title, _ = cmd.Flags().GetString("title")
		rec.Description, _ = cmd.Flags().GetString("description")
		rec.Data, _ = cmd.Flags().GetString("data")

		agent, store, err := openAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		saved, err := agent.PutRecord(cmd.Context(), rec)
		if err != nil {
			return err
		}
		return printJSON(saved)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a record locally",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		agent, store, err := openAgent(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		if err := agent.DeleteRecord(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted %s; it is removed on the server at the next sync\n", id)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities in the local replica",
	RunE: func(cmd *cobra.Command, args []string) error {
		kindStr, _ := cmd.Flags().GetString("kind")
		withDeleted, _ := cmd.Flags().GetBool("deleted")
		kind, err := models.ParseEntityKind(kindStr)
		if err != nil {
			return err
		}

		store, err := client.OpenSQLiteStore(cmd.Context(), cfg.GetString(cfgKeyDBPath))
		if err != nil {
			return err
		}
		defer store.Close()

		entities, err := store.List(cmd.Context(), kind, withDeleted)
		if err != nil {
			return err
		}
		if entities == nil {
			entities = []models.Syncable{}
		}
		return printJSON(entities)
	},
}

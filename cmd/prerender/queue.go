package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adobe-rnd/aem-commerce-prerender/pkg/queue"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/storage"
	"github.com/adobe-rnd/aem-commerce-prerender/pkg/token"
)

// Queue commands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the durable event queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and lifetime statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cleanup, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := q.Status()
		if err != nil {
			return fmt.Errorf("failed to read queue status: %v", err)
		}
		out, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all pending events, keeping statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, cleanup, err := openQueue(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		removed, err := q.Clear()
		if err != nil {
			return fmt.Errorf("failed to clear queue: %v", err)
		}
		fmt.Printf("✓ Removed %d pending events\n", removed)
		return nil
	},
}

func openQueue(cmd *cobra.Command) (*queue.Queue, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	kv, err := storage.NewBoltKV(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open kv store: %v", err)
	}
	q := queue.New(kv, queue.Options{
		MaxQueueSize: cfg.MaxQueueSize,
		DedupWindow:  cfg.DedupWindow.Std(),
		QueueTTL:     cfg.QueueTTL.Std(),
		MaxRetries:   cfg.MaxRetries,
	})
	return q, func() { kv.Close() }, nil
}

func init() {
	queueCmd.AddCommand(queueStatusCmd)
	queueCmd.AddCommand(queueClearCmd)
}

// Token commands
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect credentials",
}

var tokenValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Sanity-check the configured admin API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		issuer, _ := cmd.Flags().GetString("issuer")
		roles, _ := cmd.Flags().GetStringSlice("roles")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := token.ValidateAdminToken(cfg.AdminAPIAuthToken, issuer, roles); err != nil {
			return fmt.Errorf("token rejected: %v", err)
		}
		fmt.Println("✓ Admin token passes local validation")
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenValidateCmd)

	tokenValidateCmd.Flags().String("issuer", "", "Expected issuer claim")
	tokenValidateCmd.Flags().StringSlice("roles", []string{"admin"}, "Roles the token must carry")
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"docforest"
)

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Manage the expiry index",
}

var expireSetCmd = &cobra.Command{
	Use:   "set <docID> <seconds-from-now>",
	Short: "Schedule docID for expiry",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var seconds int64
		if _, err := fmt.Sscanf(args[1], "%d", &seconds); err != nil {
			return fmt.Errorf("docforest: invalid seconds %q: %w", args[1], err)
		}

		db, err := docforest.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		tx, err := db.BeginTransaction()
		if err != nil {
			return err
		}
		at := time.Now().Add(time.Duration(seconds) * time.Second)
		if err := db.SetExpiry(tx, []byte(args[0]), at); err != nil {
			db.EndTransaction(false)
			return err
		}
		return db.EndTransaction(true)
	},
}

var expirePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expiry-index entries for every document expired as of now, printing their ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := docforest.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		tx, err := db.BeginTransaction()
		if err != nil {
			return err
		}
		purged, err := db.PurgeExpired(tx, time.Now())
		if err != nil {
			db.EndTransaction(false)
			return err
		}
		if err := db.EndTransaction(true); err != nil {
			return err
		}
		for _, id := range purged {
			fmt.Println(string(id))
		}
		return nil
	},
}

func init() {
	expireCmd.AddCommand(expireSetCmd, expirePurgeCmd)
	rootCmd.AddCommand(expireCmd)
}

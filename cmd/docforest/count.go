package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docforest"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of live (non-deleted) documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := docforest.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.DocumentCount()
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(countCmd)
}

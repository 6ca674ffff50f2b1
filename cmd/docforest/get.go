package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docforest"
)

var getCmd = &cobra.Command{
	Use:   "get <docID>",
	Short: "Print a document's current revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := docforest.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		doc, err := db.GetDocument([]byte(args[0]))
		if err != nil {
			return err
		}
		if !doc.Exists() {
			return fmt.Errorf("docforest: %q not found", args[0])
		}

		cur, ok := doc.Current()
		if !ok {
			return fmt.Errorf("docforest: %q has no current revision", args[0])
		}
		body, err := cur.ReadBody()
		if err != nil {
			return err
		}
		fmt.Printf("%s deleted=%v conflicted=%v\n%s\n", cur.ID(), doc.Deleted(), doc.Conflicted(), body)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}

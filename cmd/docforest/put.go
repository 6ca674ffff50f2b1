package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docforest"
)

var putDocID string

var putCmd = &cobra.Command{
	Use:   "put <body>",
	Short: "Create or update a document, generating a new revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := docforest.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		docID := []byte(putDocID)
		if len(docID) == 0 {
			docID = []byte(uuid.NewString())
		}

		doc, err := db.GetDocument(docID)
		if err != nil {
			return err
		}

		opts := docforest.InsertOptions{}
		gen := 1
		if cur := doc.RevID(); !cur.IsZero() {
			opts.Parent = cur
			opts.ParentSet = true
			gen = cur.Generation + 1
		}
		digest := uuid.New()
		newRevID := docforest.RevID{Generation: gen, Digest: digest[:]}

		if _, err := doc.Insert(newRevID, []byte(args[0]), opts); err != nil {
			return err
		}

		tx, err := db.BeginTransaction()
		if err != nil {
			return err
		}
		if err := db.SaveDocument(tx, doc); err != nil {
			db.EndTransaction(false)
			return err
		}
		if err := db.EndTransaction(true); err != nil {
			return err
		}

		fmt.Printf("%s %s\n", docID, newRevID)
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putDocID, "id", "", "document id (generated if omitted)")
	rootCmd.AddCommand(putCmd)
}

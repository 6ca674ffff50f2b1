package main

import (
	"github.com/spf13/cobra"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:   "docforest",
	Short: "Operate on a docforest database",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to the docforest database directory")
	rootCmd.MarkPersistentFlagRequired("db")
}

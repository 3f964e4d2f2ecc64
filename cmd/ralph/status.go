package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current loop snapshot",
	Long:  `Print the mission-control status file maintained by a running (or most recently run) loop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, status.MarkdownFileName)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("no status snapshot found; has `ralph run` been started here?")
				return nil
			}
			return fmt.Errorf("read status: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

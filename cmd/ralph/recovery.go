package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/recovery"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Inspect or clear the recovery queue",
	Long:  `The recovery queue is the human-gated sentinel file that halts the loop until an operator reviews and clears it.`,
}

var recoveryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the recovery sentinel file, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(dir + "/" + recovery.SentinelFileName)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Println("recovery queue is empty; the loop is not halted on it")
				return nil
			}
			return fmt.Errorf("read recovery queue: %w", err)
		}
		if len(data) == 0 {
			fmt.Println("recovery queue is empty; the loop is not halted on it")
			return nil
		}
		fmt.Print(string(data))
		return nil
	},
}

var recoveryClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the recovery queue, resuming a halted loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		q := recovery.New(dir)
		if err := q.Clear(); err != nil {
			return err
		}
		fmt.Println("recovery queue cleared")
		return nil
	},
}

func init() {
	recoveryCmd.AddCommand(recoveryShowCmd, recoveryClearCmd)
	rootCmd.AddCommand(recoveryCmd)
}

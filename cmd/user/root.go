package user

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/server"
	"github.com/spf13/cobra"
)

var (
	// UserCommands represents the user command group
	UserCommands = &cobra.Command{
		Use:   "user",
		Short: "Maintain the users file of a node",
	}
	hashCmd = &cobra.Command{
		Use:   "hash [password]",
		Short: "Prints the bcrypt hash of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
	addCmd = &cobra.Command{
		Use:   "add [username] [password]",
		Short: "Adds a user to the users file or replaces its password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("file")
			if err != nil {
				return err
			}

			cfg := &server.UsersConfig{}
			if _, err := os.Stat(path); err == nil {
				if cfg, err = server.LoadUsers(path); err != nil {
					return err
				}
			}

			hash, err := server.HashPassword(args[1])
			if err != nil {
				return err
			}
			replaced := false
			for i := range cfg.Users {
				if cfg.Users[i].Username == args[0] {
					cfg.Users[i].Password = hash
					replaced = true
				}
			}
			if !replaced {
				cfg.Users = append(cfg.Users, server.User{Username: args[0], Password: hash})
			}

			if err := server.WriteUsers(path, cfg); err != nil {
				return err
			}
			fmt.Printf("user %s written to %s\n", args[0], path)
			return nil
		},
	}
)

func init() {
	addCmd.Flags().String("file", "users.yaml", util.WrapString("Path of the users file"))

	UserCommands.AddCommand(hashCmd)
	UserCommands.AddCommand(addCmd)
}

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"uk.co.dudmesh.helpline/internal/boot"
	"uk.co.dudmesh.helpline/internal/model"
	"uk.co.dudmesh.helpline/internal/service/account"
	"uk.co.dudmesh.helpline/internal/store"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts directly in the database",
	}
	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserUnlockCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	params := &model.SignupParams{}
	var role string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Role = model.Role(role)
			config, err := boot.Load()
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			return runUserCreate(cmd, config, params)
		},
	}

	cmd.Flags().StringVar(&params.Email, "email", "", "account email")
	cmd.Flags().StringVar(&params.Password, "password", "", "account password")
	cmd.Flags().StringVar(&params.Name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(model.RoleAgent), "user or agent")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func runUserCreate(cmd *cobra.Command, config *boot.Config, params *model.SignupParams) error {
	db, err := store.Open(config.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	accounts, err := account.New(config, db)
	if err != nil {
		return fmt.Errorf("creating account service: %w", err)
	}
	user, err := accounts.Signup(cmd.Context(), params)
	if err != nil {
		return err
	}
	printUser(cmd.OutOrStdout(), user)
	return nil
}

func printUser(out io.Writer, user *model.User) {
	fmt.Fprintf(out, "%s\t%s\t%s\n", user.ID, user.Email, user.Role)
}

func newUserUnlockCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock an account after too many failed logins",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := boot.Load()
			if err != nil {
				return fmt.Errorf("boot: %w", err)
			}
			db, err := store.Open(config.DatabasePath())
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer db.Close()

			user, err := db.UserByEmail(cmd.Context(), email)
			if err != nil {
				return err
			}
			if err := db.SetUserStatus(cmd.Context(), user.ID, model.UserStatusActive); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.MarkFlagRequired("email")
	return cmd
}

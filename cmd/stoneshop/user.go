package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/stoneshop/internal/model"
	"github.com/erazemk/stoneshop/internal/store"
)

func newUserCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}
	cmd.AddCommand(
		newUserAddCmd(opts),
		newUserListCmd(opts),
		newUserRmCmd(opts),
		newUserPasswdCmd(opts),
	)
	return cmd
}

func newUserAddCmd(opts *globalOptions) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account with a random password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !model.ValidRole(role) {
				return fmt.Errorf("unknown role %q (want %s, %s or %s)", role, model.RoleViewer, model.RoleStaff, model.RoleAdmin)
			}

			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			password, hash, err := newPasswordHash()
			if err != nil {
				return err
			}
			u, err := store.CreateUser(cmd.Context(), a.db, args[0], hash, role)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (id %d)\n  Password: %s\n", u.Role, u.Username, u.ID, password)
			return nil
		},
	}

	cmd.Flags().StringVarP(&role, "role", "r", model.RoleStaff, "account role: viewer, staff or admin")
	return cmd
}

func newUserListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			users, err := store.ListUsers(cmd.Context(), a.db)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSERNAME\tROLE\tCREATED")
			for _, u := range users {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.CreatedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}

func newUserRmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <username>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := lookupUser(cmd, a, args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteUser(cmd.Context(), a.db, u.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", u.Username)
			return nil
		},
	}
}

func newUserPasswdCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Reset an account to a new random password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			u, err := lookupUser(cmd, a, args[0])
			if err != nil {
				return err
			}
			password, hash, err := newPasswordHash()
			if err != nil {
				return err
			}
			if err := store.UpdateUserPassword(cmd.Context(), a.db, u.ID, hash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "new password for %s: %s\n", u.Username, password)
			return nil
		},
	}
}

// lookupUser finds an active account by username, or by numeric id.
func lookupUser(cmd *cobra.Command, a *app, name string) (*model.User, error) {
	u, err := store.GetUserByUsername(cmd.Context(), a.db, name)
	if err != nil {
		return nil, err
	}
	if u == nil {
		if id, convErr := strconv.ParseInt(name, 10, 64); convErr == nil {
			u, err = store.GetUser(cmd.Context(), a.db, id)
			if err != nil {
				return nil, err
			}
			if u != nil && u.DeletedAt != nil {
				u = nil
			}
		}
	}
	if u == nil {
		return nil, errors.New("no such user: " + name)
	}
	return u, nil
}

func newPasswordHash() (password, hash string, err error) {
	password, err = generatePassword(16)
	if err != nil {
		return "", "", fmt.Errorf("generating password: %w", err)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing password: %w", err)
	}
	return password, string(h), nil
}

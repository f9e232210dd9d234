package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storybookai/pkg/domain"
)

func newLoginCmd(env *environment) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to your account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			user, err := a.Auth.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome back, %s!\n", displayName(user))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newRegisterCmd(env *environment) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			user, err := a.Auth.Register(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s! Your account is ready.\n", displayName(user))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newLogoutCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget cached books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			if err := a.Auth.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

func newWhoamiCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			user, err := a.Auth.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			printUser(cmd, user)
			return nil
		},
	}
}

func newProfileCmd(env *environment) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update your display name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			user, err := a.Auth.UpdateProfile(cmd.Context(), name)
			if err != nil {
				return err
			}
			printUser(cmd, user)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New display name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSubscribeCmd(env *environment) *cobra.Command {
	var pro bool
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Sync your Premium subscription with the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.screens(cmd)
			if err != nil {
				return err
			}
			user, err := a.Paywall.Sync(cmd.Context(), pro)
			if err != nil {
				return err
			}
			printUser(cmd, user)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pro, "pro", true, "Whether the store reports an active Premium subscription")
	return cmd
}

func displayName(user domain.User) string {
	if user.Name != "" {
		return user.Name
	}
	return user.Email
}

func printUser(cmd *cobra.Command, user domain.User) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s>\n", displayName(user), user.Email)
	if !user.IsPremium {
		fmt.Fprintln(out, "Plan: Free")
		return
	}
	if days := user.PremiumDaysLeft(time.Now()); days > 0 {
		fmt.Fprintf(out, "Plan: Premium (%d days left)\n", days)
		return
	}
	fmt.Fprintln(out, "Plan: Premium")
}

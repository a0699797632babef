package cli

import (
	"fmt"

	"ticketbackend/internal/auth"
	"ticketbackend/internal/domain"
	"ticketbackend/internal/services"

	"github.com/spf13/cobra"
)

type createUserOptions struct {
	Name     string
	Email    string
	Password string
	Role     string
}

// NewCreateUserCommand bootstraps accounts, including admins, which cannot
// sign up through the API.
func NewCreateUserCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &createUserOptions{}

	cmd := &cobra.Command{
		Use:     "create-user",
		Short:   "Create a user, vendor or admin account",
		Example: `  ticketbackend create-user --email ops@example.com --name Ops --password 's3cret-pass' --role admin`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			conn, err := openDB(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			svc := services.AuthService{DB: conn, Tokens: auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)}
			u, err := svc.CreateUser(cmd.Context(), services.RegisterInput{
				Name:     opts.Name,
				Email:    opts.Email,
				Password: opts.Password,
				Role:     opts.Role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s #%d <%s>\n", u.Role, u.ID, u.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "login email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "initial password")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleAdmin, "user|vendor|admin")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

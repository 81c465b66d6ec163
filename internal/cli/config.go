package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"kq-tunnel/internal/config/validator"
	coreerrors "kq-tunnel/internal/core/errors"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Load defaults, the config file, KQTUNNEL_* environment variables and flags,
validate the result for the given role and print it as YAML.

Example:
  kqtunnel config --role client -c ./kqtunnel.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != validator.AppTypeServer && role != validator.AppTypeClient {
				return coreerrors.Newf(coreerrors.CodeInvalidParam, "role must be %s or %s, got %q",
					validator.AppTypeServer, validator.AppTypeClient, role)
			}
			cfg, err := root.load(cmd, role, nil)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return coreerrors.Wrap(err, coreerrors.CodeInternal, "encode config")
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&role, "role", validator.AppTypeServer, "Validate for this role: server/client")
	return cmd
}

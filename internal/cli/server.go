package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"kq-tunnel/internal/app"
	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/config/source"
)

type serverOptions struct {
	listen     string
	apiListen  string
	dialTarget string
	allow      []string
	noDial     bool
}

func newServerCommand(root *rootOptions) *cobra.Command {
	opts := &serverOptions{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept tunnel sessions and dial targets for incoming streams",
		Long: `Run the accepting side of the tunnel.

Each stream opened by a client names its target; the server dials it and
bridges bytes until both directions are done.

Example:
  kqtunnel server --listen 0.0.0.0:7000
  kqtunnel server -p websocket --listen :8443 --allow 10.0.0.5:22`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.run(cmd, app.RoleServer, opts.overrides(cmd.Flags()))
		},
	}

	opts.bind(cmd.Flags())
	return cmd
}

func (o *serverOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.listen, "listen", "l", "", "Transport listen address (host:port, or URL for websocket)")
	fs.StringVar(&o.apiListen, "api-listen", "", "Enable the management API on this address")
	fs.StringVar(&o.dialTarget, "dial-target", "", "Dial this address for every stream, ignoring the stream's target")
	fs.StringSliceVar(&o.allow, "allow", nil, "Only dial these targets (repeatable)")
	fs.BoolVar(&o.noDial, "no-dial", false, "Do not answer incoming streams")
}

func (o *serverOptions) overrides(flags *pflag.FlagSet) source.Source {
	return source.NewOverrideSource("server-flags", func(cfg *schema.Root) error {
		if flags.Changed("listen") {
			cfg.Transport.Listen = o.listen
		}
		if flags.Changed("api-listen") {
			cfg.API.Enabled = true
			cfg.API.Listen = o.apiListen
		}
		if flags.Changed("dial-target") {
			cfg.Dial.Target = o.dialTarget
		}
		if flags.Changed("allow") {
			cfg.Dial.Allow = o.allow
		}
		if flags.Changed("no-dial") {
			cfg.Dial.Enabled = !o.noDial
		}
		return nil
	})
}

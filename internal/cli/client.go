package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"kq-tunnel/internal/app"
	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/config/source"
	"kq-tunnel/internal/tunnel"
)

type clientOptions struct {
	address     string
	forwards    []string
	apiListen   string
	maxAttempts int
	dial        bool
}

func newClientCommand(root *rootOptions) *cobra.Command {
	opts := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a tunnel server and forward local ports through it",
		Long: `Run the connecting side of the tunnel.

The client keeps one session to the server, resuming it after transport
loss, and opens a stream per local connection accepted on each forward.
A bare port as listen address binds 127.0.0.1.

Example:
  kqtunnel client --server tunnel.example.com:7000 -L 2222=10.0.0.5:22
  kqtunnel client -p quic -s tunnel.example.com:7443 -L 8080=web:80 -L 5432=db:5432`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.run(cmd, app.RoleClient, opts.overrides(cmd.Flags()))
		},
	}

	opts.bind(cmd.Flags())
	return cmd
}

func (o *clientOptions) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.address, "server", "s", "", "Server address (host:port, or URL for websocket)")
	fs.StringArrayVarP(&o.forwards, "forward", "L", nil, "Local forward LISTEN=TARGET (repeatable)")
	fs.StringVar(&o.apiListen, "api-listen", "", "Enable the management API on this address")
	fs.IntVar(&o.maxAttempts, "max-attempts", 0, "Give up after this many failed reconnect attempts (0 = never)")
	fs.BoolVar(&o.dial, "dial", true, "Answer streams opened by the server")
}

func (o *clientOptions) overrides(flags *pflag.FlagSet) source.Source {
	return source.NewOverrideSource("client-flags", func(cfg *schema.Root) error {
		if flags.Changed("server") {
			cfg.Transport.Address = o.address
		}
		if flags.Changed("forward") {
			cfg.Forwards = nil
			for _, raw := range o.forwards {
				spec, err := tunnel.ParseForwardSpec(raw)
				if err != nil {
					return err
				}
				cfg.Forwards = append(cfg.Forwards, schema.ForwardConfig{Listen: spec.Listen, Target: spec.Target})
			}
		}
		if flags.Changed("api-listen") {
			cfg.API.Enabled = true
			cfg.API.Listen = o.apiListen
		}
		if flags.Changed("max-attempts") {
			cfg.Reconnect.MaxAttempts = o.maxAttempts
		}
		if flags.Changed("dial") {
			cfg.Dial.Enabled = o.dial
		}
		return nil
	})
}

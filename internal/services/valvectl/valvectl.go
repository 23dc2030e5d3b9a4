// Package valvectl is the command-line client of a node's admin service.
package valvectl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/LeonardoBeccarini/irrigation_node/pkg/adminrpc"
)

// AdminClient is the subset of adminrpc.Client the commands use.
type AdminClient interface {
	GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetClock(ctx context.Context, value string, opts ...grpc.CallOption) (*structpb.Struct, error)
	SyncClock(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// Dialer connects to the admin listener at addr.
type Dialer func(addr string) (AdminClient, io.Closer, error)

// GrpcDialer dials a plaintext gRPC connection.
func GrpcDialer(addr string) (AdminClient, io.Closer, error) {
	conn, err := adminrpc.Dial(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return adminrpc.NewClient(conn), conn, nil
}

type globals struct {
	addr    string
	output  string
	timeout time.Duration
}

// NewRootCmd builds the valvectl command tree.
func NewRootCmd(dial Dialer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "valvectl",
		Short:         "Admin client of an irrigation node",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			switch g.output {
			case "json", "yaml":
				return nil
			}
			return fmt.Errorf("unsupported output %q (json|yaml)", g.output)
		},
	}
	root.PersistentFlags().StringVarP(&g.addr, "addr", "a", "localhost:50051", "node admin address")
	root.PersistentFlags().StringVarP(&g.output, "output", "o", "yaml", "output format: yaml|json")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show clock, valve session and schedule slots",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return g.call(cmd, dial, func(ctx context.Context, c AdminClient) (*structpb.Struct, error) {
					return c.GetStatus(ctx)
				})
			},
		},
		&cobra.Command{
			Use:     "set-time DD/MM/YYYY HH:MM",
			Short:   "Set the node clock",
			Example: "  valvectl set-time 02/12/2025 06:55",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := args[0] + " " + args[1]
				return g.call(cmd, dial, func(ctx context.Context, c AdminClient) (*structpb.Struct, error) {
					return c.SetClock(ctx, value)
				})
			},
		},
		&cobra.Command{
			Use:   "sync-time",
			Short: "Force a network time sync on the node",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return g.call(cmd, dial, func(ctx context.Context, c AdminClient) (*structpb.Struct, error) {
					return c.SyncClock(ctx)
				})
			},
		},
	)
	return root
}

func (g *globals) call(cmd *cobra.Command, dial Dialer, fn func(context.Context, AdminClient) (*structpb.Struct, error)) error {
	client, closer, err := dial(g.addr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()

	res, err := fn(ctx, client)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), g.output, res)
}

func render(w io.Writer, format string, s *structpb.Struct) error {
	m := s.AsMap()
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(m)
}

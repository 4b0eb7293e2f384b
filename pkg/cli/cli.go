package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amirimatin/go-consensus/pkg/bootstrap"
	"github.com/amirimatin/go-consensus/pkg/internal/logutil"
	"github.com/amirimatin/go-consensus/pkg/observability/tracing"
	"github.com/amirimatin/go-consensus/pkg/transport"
	mgmtgrpc "github.com/amirimatin/go-consensus/pkg/transport/grpc"
)

// AddAll attaches consensus subcommands (run/status) to the provided root
// command.
func AddAll(root *cobra.Command) {
	root.AddCommand(NewRunCmd())
	root.AddCommand(NewStatusCmd())
}

// NewRunCmd returns the "run" command used to start a consensus node.
func NewRunCmd() *cobra.Command {
	var (
		id, raftAddr, memBind, memAdv, joinCSV, mgmtAddr, dataDir string
		leaseDur                                                  time.Duration
		traceEnable, doBootstrap, logJSON                         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consensus node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			if logJSON {
				logutil.SetJSON(true)
			}
			if traceEnable {
				shutdown, err := tracing.Setup(true)
				if err != nil {
					log.Printf("tracing setup error: %v", err)
				} else {
					defer func() { _ = shutdown(context.Background()) }()
				}
			}

			cfg := bootstrap.Config{
				NodeID:        id,
				RaftAddr:      raftAddr,
				MemBind:       memBind,
				MemAdv:        memAdv,
				MgmtAddr:      mgmtAddr,
				SeedsCSV:      joinCSV,
				DataDir:       dataDir,
				Bootstrap:     doBootstrap,
				LeaseDuration: leaseDur,
				Logger:        log.Default(),
			}
			n, err := bootstrap.Run(ctx, cfg)
			if err != nil {
				return err
			}
			defer n.Close()

			fmt.Println("consensus node running. Press Ctrl+C to exit.")
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "node id (random UUID when empty)")
	cmd.Flags().StringVar(&raftAddr, "raft-addr", ":9520", "raft bind addr (tcp)")
	cmd.Flags().StringVar(&memBind, "mem-bind", ":7946", "membership bind addr (host:port)")
	cmd.Flags().StringVar(&memAdv, "mem-adv", "", "membership advertise addr (host:port, optional)")
	cmd.Flags().StringVar(&joinCSV, "join", "", "comma-separated membership seed nodes (host:port)")
	cmd.Flags().StringVar(&mgmtAddr, "mgmt-addr", ":17946", "management gRPC address (tcp)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "directory for on-disk raft stores (empty = in-memory)")
	cmd.Flags().DurationVar(&leaseDur, "lease", 0, "leader lease duration (0 = engine default)")
	cmd.Flags().BoolVar(&doBootstrap, "bootstrap", false, "bootstrap a single-node cluster")
	cmd.Flags().BoolVar(&traceEnable, "trace", false, "enable stdout tracing")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "emit structured JSON logs")
	return cmd
}

// NewStatusCmd returns the "status" command querying a node's management
// endpoint.
func NewStatusCmd() *cobra.Command {
	var (
		addr       string
		allowStale bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a node's status and leader readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			cli := mgmtgrpc.NewClient(timeout)

			blob, err := cli.GetStatus(ctx, addr)
			if err != nil {
				return err
			}
			var pretty map[string]any
			if err := json.Unmarshal(blob, &pretty); err == nil {
				blob, _ = json.MarshalIndent(pretty, "", "  ")
			}
			fmt.Println(string(blob))

			ls, err := cli.GetLeaderState(ctx, addr, transport.LeaderStateRequest{AllowStale: allowStale})
			if err != nil {
				fmt.Printf("leader state: %v\n", err)
				return nil
			}
			fmt.Printf("leader state: %s (term %d)\n", ls.Status, ls.Term)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:17946", "management address of the target node")
	cmd.Flags().BoolVar(&allowStale, "allow-stale", false, "accept a cached readiness answer")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	return cmd
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

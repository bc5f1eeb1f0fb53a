// Command watchgraphctl is a client for the egress wire protocol: it
// dials a watchgraphd (or any process speaking the same frame format),
// reads the handshake, and prints every cut response and change frame
// it receives as they arrive.
package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/99souls/watchgraph/egress"
)

type config struct {
	addr    string
	timeout time.Duration
}

func main() {
	cfg := &config{}
	root := &cobra.Command{
		Use:   "watchgraphctl",
		Short: "Connect to a watchgraph egress stream and print received frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	flags := pflag.NewFlagSet("watchgraphctl", pflag.ExitOnError)
	flags.StringVar(&cfg.addr, "addr", "127.0.0.1:7777", "TCP address of the egress source")
	flags.DurationVar(&cfg.timeout, "dial-timeout", 5*time.Second, "dial timeout")
	root.Flags().AddFlagSet(flags)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	conn, err := net.DialTimeout("tcp", cfg.addr, cfg.timeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("connected to %s\n", cfg.addr)
	var cuts, changes int
	for {
		tag, body, err := egress.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Printf("connection closed (%d cut responses, %d change frames)\n", cuts, changes)
				return nil
			}
			return err
		}
		switch tag {
		case egress.TagHandshake:
			h, err := egress.DecodeHandshake(body)
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad handshake frame: %v\n", err)
				continue
			}
			fmt.Printf("handshake: trace_v1=%v frame_pointers=%v sampling=%v alloc_tracking=%v modules=%d\n",
				h.TraceV1, h.RequiresFramePointers, h.SamplingSupported, h.AllocTrackingSupported, len(h.ModuleManifest))
			if h.TraceV1 && len(h.ModuleManifest) == 0 {
				fmt.Fprintln(os.Stderr, "warning: trace_v1 claimed without a module manifest; a collector would reject this process's cut responses")
			}
		case egress.TagCutResponse:
			r, err := egress.DecodeCutResponse(body)
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad cut response frame: %v\n", err)
				continue
			}
			cuts++
			fmt.Printf("cut #%d epoch=%d process=%s entities=%d scopes=%d edges=%d events=%d backtraces=%d unresolved=%d\n",
				r.SnapshotID, r.Epoch, r.Process.Name, len(r.Entities), len(r.Scopes), len(r.Edges), len(r.Events), len(r.Backtraces), len(r.UnresolvedEdges))
		case egress.TagChange:
			c, err := egress.DecodeChange(body)
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad change frame: %v\n", err)
				continue
			}
			changes++
			fmt.Printf("change: kind=%s\n", c.Kind)
		default:
			fmt.Fprintf(os.Stderr, "unknown frame tag %d (%d bytes)\n", tag, len(body))
		}
	}
}

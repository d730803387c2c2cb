package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	boardnet "CollabBoard/internal/net"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find boards on the local network",
		Long: `Browse mDNS for boards started with "serve --mdns" and print their
websocket addresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Searching for boards (%s)...\n", timeout)

			p := newBoardPrinter(out)
			if err := boardnet.Browse(timeout, p.print); err != nil {
				return err
			}
			if p.count() == 0 {
				yellow.Fprintln(out, "No boards found.")
				return nil
			}
			green.Fprintf(out, "Found %d board(s).\n", p.count())
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "How long to wait for answers")
	return cmd
}

// boardPrinter prints each board once; a board is often announced on
// several interfaces.
type boardPrinter struct {
	w    io.Writer
	seen map[string]bool
}

func newBoardPrinter(w io.Writer) *boardPrinter {
	return &boardPrinter{w: w, seen: make(map[string]bool)}
}

func (p *boardPrinter) print(b boardnet.Board) {
	if p.seen[b.Addr] {
		return
	}
	p.seen[b.Addr] = true

	cyan.Fprintf(p.w, "%s", b.Instance)
	fmt.Fprintf(p.w, "  %s", b.URL())
	if len(b.Info) > 0 {
		fmt.Fprintf(p.w, "  (%s)", strings.Join(b.Info, ", "))
	}
	fmt.Fprintln(p.w)
}

func (p *boardPrinter) count() int { return len(p.seen) }

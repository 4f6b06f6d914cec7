package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tutu-network/troupe/internal/domain"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(actorsCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show metrics and nodes of a running server",
	RunE:  runStatus,
}

var actorsCmd = &cobra.Command{
	Use:     "actors",
	Aliases: []string{"ps"},
	Short:   "List actors on the primary node of a running server",
	RunE:    runActors,
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// getJSON fetches path from the server and decodes the body into v.
func getJSON(path string, v interface{}) error {
	resp, err := httpClient.Get(strings.TrimRight(serverURL, "/") + path)
	if err != nil {
		return fmt.Errorf("is troupe serving at %s? %w", serverURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var m domain.SystemMetrics
	if err := getJSON("/api/metrics", &m); err != nil {
		return err
	}
	var nodes struct {
		Nodes []domain.Node `json:"nodes"`
	}
	if err := getJSON("/api/nodes", &nodes); err != nil {
		return err
	}

	uptime := time.Duration(m.UptimeSeconds * float64(time.Second))
	fmt.Printf("Node %s, up since %s\n", m.NodeID, humanize.Time(time.Now().Add(-uptime)))
	fmt.Printf("  Actors: %d   Nodes: %d/%d online   Queue: %s\n",
		m.ActiveActors, m.OnlineNodes, m.Nodes, humanize.Comma(int64(m.QueueDepth)))
	fmt.Printf("  Processed: %s   Dropped: %s   Errors: %s   Error rate: %.2f%%\n",
		humanize.Comma(int64(m.Processed)), humanize.Comma(int64(m.Dropped)),
		humanize.Comma(int64(m.Errors)), m.ErrorRate*100)
	fmt.Printf("  Throughput: %.1f msg/s   Avg latency: %.2f ms   Memory: %s\n\n",
		m.MessagesPerSec, m.AvgLatencyMs, humanize.IBytes(uint64(max(m.MemoryUsage, 0))))

	return printNodes(nodes.Nodes)
}

func printNodes(nodes []domain.Node) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tSTATUS\tACTORS\tLOAD\tLAST HEARTBEAT")
	for _, n := range nodes {
		id := n.ID
		if n.Local {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%.0f%%\t%s\n",
			id,
			n.Status,
			len(n.Actors), n.Capacity,
			n.CurrentLoad*100,
			humanize.Time(n.LastHeartbeat),
		)
	}
	return w.Flush()
}

func runActors(cmd *cobra.Command, args []string) error {
	var out struct {
		Actors []domain.ActorState `json:"actors"`
	}
	if err := getJSON("/api/actors", &out); err != nil {
		return err
	}
	if len(out.Actors) == 0 {
		fmt.Println("No actors on this node.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tLOAD\tMEMORY\tPROCESSED\tCAPABILITIES")
	for _, a := range out.Actors {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s / %s\t%s\t%s\n",
			a.ID,
			a.Type,
			a.Status,
			a.Load,
			humanize.IBytes(uint64(max(a.Memory.Used, 0))),
			humanize.IBytes(uint64(max(a.Memory.Allocated, 0))),
			humanize.Comma(int64(a.Metrics.Processed)),
			strings.Join(a.Capabilities, ","),
		)
	}
	return w.Flush()
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/opsforge/fleet-orchestrator/internal/config"
	"github.com/spf13/cobra"
)

var (
	serverURL      string
	submitStrategy string
	submitLimit    int
	submitStop     bool
	listLimit      int
	logsStart      int
	servePort      int
	serveHost      string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "orchestrator API base URL")

	// submit command
	submitCmd := &cobra.Command{
		Use:   "submit PLAYBOOK TARGET TARGET...",
		Short: "Submit a batch run of a playbook against targets",
		Args:  cobra.MinimumNArgs(3),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVar(&submitStrategy, "strategy", "sequential", "execution strategy (parallel or sequential)")
	submitCmd.Flags().IntVar(&submitLimit, "concurrency", 0, "parallel concurrency limit")
	submitCmd.Flags().BoolVar(&submitStop, "stop-on-failure", false, "cancel remaining targets after the first failure")
	rootCmd.AddCommand(submitCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show orchestrator status",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		RunE:  runList,
	}
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum batches to list")
	rootCmd.AddCommand(listCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show BATCH",
		Short: "Show a batch and its per-target runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	// cancel command
	cancelCmd := &cobra.Command{
		Use:   "cancel BATCH",
		Short: "Cancel a running batch",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
	rootCmd.AddCommand(cancelCmd)

	// logs command
	logsCmd := &cobra.Command{
		Use:   "logs BATCH CHILD",
		Short: "View output of one target's run",
		Args:  cobra.ExactArgs(2),
		RunE:  runLogs,
	}
	logsCmd.Flags().IntVar(&logsStart, "start", 0, "first line number to show")
	rootCmd.AddCommand(logsCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "address to bind")
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func apiBaseURL(cfg *config.Config) string {
	if serverURL != "" {
		return serverURL
	}
	return fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(apiBaseURL(cfg))
	batch, err := client.Submit(args[0], args[1:], submitStrategy, submitLimit, submitStop)
	if err != nil {
		return err
	}

	fmt.Printf("Submitted batch %s: %s against %d targets (%s)\n",
		batch.ID, batch.Playbook, len(batch.Targets), batch.Strategy)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(apiBaseURL(cfg))
	status, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("Active batches: %d\n", status.ActiveBatches)
	if status.Runners > 0 || status.QueuedRuns > 0 {
		fmt.Printf("Runners: %d connected | %d runs queued\n", status.Runners, status.QueuedRuns)
	}
	for _, s := range []string{"pending", "running", "success", "failed", "cancelled"} {
		if n := status.Batches[s]; n > 0 {
			fmt.Printf("  %s: %d\n", s, n)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(apiBaseURL(cfg))
	batches, err := client.ListBatches(listLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAYBOOK\tTARGETS\tSTRATEGY\tSTATUS\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			b.ID, b.Playbook, len(b.Targets), b.Strategy, b.Status,
			b.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(apiBaseURL(cfg))
	detail, err := client.GetBatch(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Batch %s: %s (%s)\n", detail.ID, detail.Playbook, detail.Status)
	fmt.Printf("Outcome: %s\n\n", detail.Summary)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHILD\tTARGET\tSTATUS\tERROR")
	for _, c := range detail.Children {
		errMsg := c.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.TargetID, c.Status, errMsg)
	}
	w.Flush()
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(apiBaseURL(cfg))
	if err := client.CancelBatch(args[0]); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for batch %s\n", args[0])
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client := newClient(apiBaseURL(cfg))
	lines, err := client.ChildLogs(args[0], args[1], logsStart)
	if err != nil {
		return err
	}

	for _, l := range lines {
		fmt.Printf("%5d  %s\n", l.Line, l.Content)
	}
	return nil
}

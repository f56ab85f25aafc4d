package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ksachdeva/probability/pkg/models"
	"github.com/ksachdeva/probability/pkg/retry"
)

var (
	submitName      string
	submitTarget    string
	submitDims      int
	submitStepSize  float64
	submitBurnin    int64
	submitThinning  int64
	submitNumDraws  int
	submitSeed      int64
	listStatus      string
	samplesOffset   int
	samplesLimit    int
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Manage sampling runs",
	Long:  `Commands for submitting, inspecting and canceling sampling runs on the daemon.`,
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new sampling run",
	Long: `Submit a run to the daemon queue. The run describes a target
distribution, a random-walk proposal, and a discard policy (burn-in
plus thinning).

Example:
  probctl runs submit --target std-normal --dims 2 --draws 1000 --burnin 500 --thinning 4`,
	RunE: runRunsSubmit,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE:  runRunsList,
}

var runsDescribeCmd = &cobra.Command{
	Use:   "describe <run-id>",
	Short: "Get detailed information about a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDescribe,
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a queued or running run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsCancel,
}

var runsSamplesCmd = &cobra.Command{
	Use:   "samples <run-id>",
	Short: "Fetch a page of a run's draws",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsSamples,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsSubmitCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsDescribeCmd)
	runsCmd.AddCommand(runsCancelCmd)
	runsCmd.AddCommand(runsSamplesCmd)

	runsSubmitCmd.Flags().StringVar(&submitName, "name", "", "Optional run name")
	runsSubmitCmd.Flags().StringVar(&submitTarget, "target", "std-normal", "Target distribution name")
	runsSubmitCmd.Flags().IntVar(&submitDims, "dims", 1, "State dimensionality")
	runsSubmitCmd.Flags().Float64Var(&submitStepSize, "step-size", 0.5, "Proposal step size")
	runsSubmitCmd.Flags().Int64Var(&submitBurnin, "burnin", 0, "Steps to discard before the first draw")
	runsSubmitCmd.Flags().Int64Var(&submitThinning, "thinning", 0, "Steps discarded between consecutive draws")
	runsSubmitCmd.Flags().IntVar(&submitNumDraws, "draws", 100, "Number of draws to collect")
	runsSubmitCmd.Flags().Int64Var(&submitSeed, "seed", time.Now().UnixNano(), "RNG seed")

	runsListCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (queued, running, completed, failed, canceled)")

	runsSamplesCmd.Flags().IntVar(&samplesOffset, "offset", 0, "First draw index to fetch")
	runsSamplesCmd.Flags().IntVar(&samplesLimit, "limit", 20, "Number of draws to fetch (0 = all)")
}

// doRequest performs an HTTP request against the daemon with retries on
// transient failures.
func doRequest(method, url string, body []byte) ([]byte, int, error) {
	var (
		respBody []byte
		status   int
	)

	err := retry.Do(context.Background(), retry.Config{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, url, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to connect to daemon: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		status = resp.StatusCode

		if resp.StatusCode >= 500 {
			return &retry.StatusError{Status: resp.StatusCode, Body: string(respBody)}
		}
		return nil
	})
	return respBody, status, err
}

func apiError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("API error (status %d): %s", status, e.Error)
	}
	return fmt.Errorf("API error (status %d): %s", status, string(body))
}

func printStructured(v interface{}) error {
	if IsYAMLOutput() {
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal YAML: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runRunsSubmit(cmd *cobra.Command, args []string) error {
	req := models.RunRequest{
		Name: submitName,
		Spec: models.KernelSpec{
			Target:              submitTarget,
			Dims:                submitDims,
			StepSize:            submitStepSize,
			BurninSteps:         submitBurnin,
			StepsBetweenResults: submitThinning,
			NumResults:          submitNumDraws,
			Seed:                submitSeed,
		},
	}
	if err := req.Spec.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	body, status, err := doRequest("POST", GetServerURL()+"/runs", payload)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return apiError(status, body)
	}

	var run models.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return printStructured(run)
	}

	fmt.Printf("Run submitted: %s\n", run.ID)
	fmt.Printf("  Target:   %s (%d dims)\n", run.Spec.Target, run.Spec.Dims)
	fmt.Printf("  Draws:    %d (burnin %d, thinning %d)\n",
		run.Spec.NumResults, run.Spec.BurninSteps, run.Spec.StepsBetweenResults)
	fmt.Printf("  Status:   %s\n", run.Status)
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	url := GetServerURL() + "/runs"
	if listStatus != "" {
		url += "?status=" + listStatus
	}

	body, status, err := doRequest("GET", url, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}

	var runs []*models.Run
	if err := json.Unmarshal(body, &runs); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return printStructured(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Name", "Target", "Status", "Progress", "Accept", "Created")

	for _, run := range runs {
		progress := fmt.Sprintf("%d/%d", run.Progress, run.Spec.NumResults)
		table.Append(
			run.ID,
			run.Name,
			run.Spec.Target,
			string(run.Status),
			progress,
			fmt.Sprintf("%.2f", run.AcceptanceRate),
			run.CreatedAt.Format(time.RFC3339),
		)
	}

	table.Render()
	fmt.Printf("\nTotal runs: %d\n", len(runs))
	return nil
}

func fetchRun(id string) (*models.Run, error) {
	body, status, err := doRequest("GET", GetServerURL()+"/runs/"+id, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, apiError(status, body)
	}

	var run models.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &run, nil
}

func runRunsDescribe(cmd *cobra.Command, args []string) error {
	run, err := fetchRun(args[0])
	if err != nil {
		return err
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return printStructured(run)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")

	table.Append([]string{"Run ID", run.ID})
	if run.Name != "" {
		table.Append([]string{"Name", run.Name})
	}
	table.Append([]string{"Status", string(run.Status)})
	table.Append([]string{"Target", fmt.Sprintf("%s (%d dims)", run.Spec.Target, run.Spec.Dims)})
	table.Append([]string{"Step Size", fmt.Sprintf("%g", run.Spec.StepSize)})
	table.Append([]string{"Burn-in", fmt.Sprintf("%d", run.Spec.BurninSteps)})
	table.Append([]string{"Thinning", fmt.Sprintf("%d", run.Spec.StepsBetweenResults)})
	table.Append([]string{"Draws", fmt.Sprintf("%d/%d", run.Progress, run.Spec.NumResults)})
	table.Append([]string{"Acceptance Rate", fmt.Sprintf("%.4f", run.AcceptanceRate)})
	table.Append([]string{"Seed", fmt.Sprintf("%d", run.Spec.Seed)})
	table.Append([]string{"Created", run.CreatedAt.Format(time.RFC3339)})
	if run.StartedAt != nil {
		table.Append([]string{"Started", run.StartedAt.Format(time.RFC3339)})
	}
	if run.CompletedAt != nil {
		table.Append([]string{"Completed", run.CompletedAt.Format(time.RFC3339)})
	}
	if run.Error != "" {
		table.Append([]string{"Error", run.Error})
	}

	table.Render()

	if len(run.StateTransitions) > 0 {
		fmt.Println("\nState transitions:")
		for _, tr := range run.StateTransitions {
			line := fmt.Sprintf("  %s  %s -> %s", tr.Timestamp.Format(time.RFC3339), tr.From, tr.To)
			if tr.Reason != "" {
				line += " (" + tr.Reason + ")"
			}
			fmt.Println(line)
		}
	}
	return nil
}

func runRunsCancel(cmd *cobra.Command, args []string) error {
	body, status, err := doRequest("DELETE", GetServerURL()+"/runs/"+args[0], nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}

	var run models.Run
	if err := json.Unmarshal(body, &run); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return printStructured(run)
	}

	fmt.Printf("Run %s canceled\n", run.ID)
	return nil
}

func runRunsSamples(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/runs/%s/samples?offset=%d&limit=%d",
		GetServerURL(), args[0], samplesOffset, samplesLimit)

	body, status, err := doRequest("GET", url, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apiError(status, body)
	}

	var page struct {
		RunID   string           `json:"run_id"`
		Offset  int              `json:"offset"`
		Limit   int              `json:"limit"`
		Total   int              `json:"total"`
		Samples []*models.Sample `json:"samples"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if IsJSONOutput() || IsYAMLOutput() {
		return printStructured(page)
	}

	if len(page.Samples) == 0 {
		fmt.Println("No samples in this page")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Index", "State", "Log Prob", "Accepted")

	for _, s := range page.Samples {
		table.Append(
			fmt.Sprintf("%d", s.Index),
			formatState(s.State),
			fmt.Sprintf("%.4f", s.TargetLogProb),
			fmt.Sprintf("%t", s.Accepted),
		)
	}

	table.Render()
	fmt.Printf("\nShowing %d of %d draws (offset %d)\n", len(page.Samples), page.Total, page.Offset)
	return nil
}

func formatState(state []float64) string {
	var buf bytes.Buffer
	buf.WriteString("[")
	for i, x := range state {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%.4f", x)
	}
	buf.WriteString("]")
	return buf.String()
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/veilgate/veilgate/internal/rules"
)

var (
	rulesetFile string
	rulesDir    string
	addr        string
	sessionID   string
)

func main() {
	root := &cobra.Command{
		Use:   "veilctl",
		Short: "Operator CLI for the veilgate sanitization gateway",
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile a ruleset offline and report its counts",
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVar(&rulesetFile, "ruleset", "rules/ruleset.yaml", "path to the ruleset file")
	validateCmd.Flags().StringVar(&rulesDir, "dir", "rules", "rules directory holding lists/")

	reloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running gateway to reload its ruleset",
		RunE:  runReload,
	}
	reloadCmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "gateway base URL")

	purgeCmd := &cobra.Command{
		Use:   "purge-session",
		Short: "Delete every token mapping for a session",
		RunE:  runPurge,
	}
	purgeCmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "gateway base URL")
	purgeCmd.Flags().StringVar(&sessionID, "session", "", "session id to purge")
	purgeCmd.MarkFlagRequired("session")

	root.AddCommand(validateCmd, reloadCmd, purgeCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	ruleset, err := rules.Compile(rulesetFile, rulesDir)
	if err != nil {
		return fmt.Errorf("ruleset invalid: %w", err)
	}

	total, lists := ruleset.RuleCount()
	fmt.Printf("ruleset ok: %d rules (%d list-backed), %d never-reconcile categories\n",
		total, lists, len(ruleset.NeverReconcile))
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	body, err := post(addr+"/rules/reload", nil)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/v1/sessions/%s/tokens", addr, sessionID), nil)
	if err != nil {
		return err
	}

	body, err := do(req)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func post(url string, payload interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req)
}

func do(req *http.Request) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("gateway returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}

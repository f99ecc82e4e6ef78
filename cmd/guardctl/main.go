package main

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/org/clipguard/internal/policy"
	"github.com/org/clipguard/internal/webhook"
	"github.com/org/clipguard/pkg/models"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "ClipGuard CLI",
	Long:  "A CLI for inspecting access decisions and the audit log of a ClipGuard server.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with --format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(adminCmd())
	rootCmd.AddCommand(webhookCmd())
}

// --- login / status ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [token]",
		Short: "Store a session token in the CLI config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) > 0 {
				token = args[0]
			} else {
				fmt.Print("Session token: ")
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Scan()
				token = strings.TrimSpace(scanner.Text())
			}
			if token == "" {
				return fmt.Errorf("empty token")
			}
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				cfg.Address = addr
			}
			cfg.Token = token
			if err := saveConfig(); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Token saved to " + configPath())
			return nil
		},
	}
	cmd.Flags().String("address", "", "Server address to store alongside the token")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/v1/sys/health")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- access ---

func accessCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "access", Short: "Evaluate access decisions"}

	checkCmd := &cobra.Command{
		Use:   "check <resource-type> <operation> [resource-id]",
		Short: "Ask the server whether an operation would be allowed",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"resourceType": args[0],
				"operation":    strings.ToUpper(args[1]),
			}
			if len(args) == 3 {
				body["resourceId"] = args[2]
			}
			if as, _ := cmd.Flags().GetString("as"); as != "" {
				body["principalId"] = as
				role, _ := cmd.Flags().GetString("role")
				body["role"] = role
			}
			if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
				body["skipCache"] = true
			}
			result, err := newClient().post("/v1/access/check", body)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	checkCmd.Flags().String("as", "", "Check on behalf of another principal (admin only)")
	checkCmd.Flags().String("role", "user", "Role of the --as principal")
	checkCmd.Flags().Bool("fresh", false, "Bypass the decision cache")

	cmd.AddCommand(checkCmd)
	return cmd
}

// --- audit ---

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Inspect the audit log (admin only)"}

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Query audit events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for _, name := range []string{"principal", "resource-type", "operation", "violation"} {
				if v, _ := cmd.Flags().GetString(name); v != "" {
					q.Set(queryName(name), v)
				}
			}
			if cmd.Flags().Changed("success") {
				v, _ := cmd.Flags().GetBool("success")
				q.Set("success", strconv.FormatBool(v))
			}
			if d, _ := cmd.Flags().GetDuration("since"); d > 0 {
				q.Set("since", time.Now().Add(-d).UTC().Format(time.RFC3339))
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if verify, _ := cmd.Flags().GetBool("verify"); verify {
				q.Set("verify", "true")
			}

			result, err := newClient().get("/v1/audit/events?" + q.Encode())
			if err != nil {
				printError(err.Error())
				return nil
			}
			events, _ := result["data"].([]any)
			printEvents(events)
			return nil
		},
	}
	eventsCmd.Flags().String("principal", "", "Filter by principal ID")
	eventsCmd.Flags().String("resource-type", "", "Filter by resource type")
	eventsCmd.Flags().String("operation", "", "Filter by operation")
	eventsCmd.Flags().String("violation", "", "Filter by violation kind")
	eventsCmd.Flags().Bool("success", false, "Filter by outcome")
	eventsCmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 1h)")
	eventsCmd.Flags().Int("limit", 50, "Maximum events to return")
	eventsCmd.Flags().Int("offset", 0, "Events to skip")
	eventsCmd.Flags().Bool("verify", false, "Verify each event's seal")

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show security metrics for the last 24 hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/audit/metrics"
			if refresh, _ := cmd.Flags().GetBool("refresh"); refresh {
				path += "?refresh=true"
			}
			result, err := newClient().get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	metricsCmd.Flags().Bool("refresh", false, "Recompute instead of using the cached summary")

	cmd.AddCommand(eventsCmd, metricsCmd)
	return cmd
}

// queryName maps a flag name onto the audit query parameter.
func queryName(flag string) string {
	if flag == "resource-type" {
		return "resourceType"
	}
	return flag
}

// --- policy ---

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "policy", Short: "Inspect the built-in permission matrix"}

	matrixCmd := &cobra.Command{
		Use:   "matrix",
		Short: "Print the role × resource × operation matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			rt, _ := cmd.Flags().GetString("resource-type")
			var rows []policy.Row
			for _, r := range policy.Table() {
				if role != "" && string(r.Role) != role {
					continue
				}
				if rt != "" && string(r.ResourceType) != rt {
					continue
				}
				rows = append(rows, r)
			}
			printMatrix(os.Stdout, rows)
			return nil
		},
	}
	matrixCmd.Flags().String("role", "", "Only this role")
	matrixCmd.Flags().String("resource-type", "", "Only this resource type")

	explainCmd := &cobra.Command{
		Use:   "explain <role> <resource-type> <operation>",
		Short: "Explain the static part of a decision",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := models.Role(args[0])
			rt, ok := models.ParseResourceType(args[1])
			if !ok || !role.Valid() {
				return fmt.Errorf("unknown role or resource type")
			}
			op, ok := models.ParseOperation(args[2])
			if !ok {
				return fmt.Errorf("unknown operation %q", args[2])
			}
			level := policy.Level(role, rt, op)
			printResult(map[string]any{
				"permission":        string(level),
				"allowed":           policy.IsAllowed(level, op),
				"requiredAccess":    string(policy.RequiredAccessLevel(rt, op)),
				"requiresOwnership": policy.RequiresOwnership(role, rt, op),
			})
			return nil
		},
	}

	cmd.AddCommand(matrixCmd, explainCmd)
	return cmd
}

// --- admin ---

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Administrative commands"}

	invalidateCmd := &cobra.Command{
		Use:   "invalidate <principal-id>",
		Short: "Drop every cached decision and session of a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().post("/v1/admin/principals/"+url.PathEscape(args[0])+"/invalidate", nil)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(invalidateCmd)
	return cmd
}

// --- webhook ---

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "webhook", Short: "Sign and send automation callbacks"}

	signCmd := &cobra.Command{
		Use:   "sign <body>",
		Short: "Print the headers that authenticate body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := webhookSecret(cmd)
			if err != nil {
				return err
			}
			ts := strconv.FormatInt(time.Now().Unix(), 10)
			printResult(map[string]any{
				webhook.HeaderTimestamp: ts,
				webhook.HeaderSignature: webhook.Sign(secret, ts, []byte(args[0])),
			})
			return nil
		},
	}

	sendCmd := &cobra.Command{
		Use:   "send <job-id> <status>",
		Short: "Send a signed job status callback",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := webhookSecret(cmd)
			if err != nil {
				return err
			}
			body := []byte(fmt.Sprintf(`{"jobId":%q,"status":%q}`, args[0], args[1]))
			ts := strconv.FormatInt(time.Now().Unix(), 10)
			headers := map[string]string{
				webhook.HeaderTimestamp: ts,
				webhook.HeaderSignature: webhook.Sign(secret, ts, body),
			}
			if origin, _ := cmd.Flags().GetString("origin"); origin != "" {
				headers["Origin"] = origin
			}
			result, err := newClient().postRaw("/v1/webhooks/n8n", body, headers)
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	sendCmd.Flags().String("origin", "", "Origin header to send")

	cmd.PersistentFlags().String("secret", "", "Webhook secret (default: config or CLIPGUARD_WEBHOOK_SECRET)")
	cmd.AddCommand(signCmd, sendCmd)
	return cmd
}

func webhookSecret(cmd *cobra.Command) (string, error) {
	if s, _ := cmd.Flags().GetString("secret"); s != "" {
		return s, nil
	}
	if s := os.Getenv("CLIPGUARD_WEBHOOK_SECRET"); s != "" {
		return s, nil
	}
	if cfg.WebhookSecret != "" {
		return cfg.WebhookSecret, nil
	}
	return "", fmt.Errorf("no webhook secret configured")
}

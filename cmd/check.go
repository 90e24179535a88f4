package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/database"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to the database, Redis and the Telegram Bot API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		passed, total := runChecks(ctx, os.Stdout)

		fmt.Println(strings.Repeat("-", 50))
		switch {
		case passed == total:
			fmt.Printf("SYSTEM HEALTHY: %d/%d checks passed\n", passed, total)
		case passed >= total/2:
			fmt.Printf("SYSTEM DEGRADED: %d/%d checks passed\n", passed, total)
		default:
			fmt.Printf("SYSTEM UNHEALTHY: %d/%d checks passed\n", passed, total)
		}

		if passed != total {
			return fmt.Errorf("%d checks failed", total-passed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func runChecks(ctx context.Context, out io.Writer) (int, int) {
	fmt.Fprintf(out, "Granter Health Check - %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, strings.Repeat("=", 50))

	checks := []check{
		{"Database", checkDatabase},
		{"Schema", checkSchema},
		{"Database Data", checkData},
	}
	if cfg.RedisURL != "" {
		checks = append(checks, check{"Redis", checkRedis})
	}
	if cfg.TelegramEnabled() {
		checks = append(checks, check{"Telegram Bot API", checkTelegram})
	}
	defer database.Close()

	passed := 0
	for _, c := range checks {
		detail, err := c.run(ctx)
		if err != nil {
			fmt.Fprintf(out, "%-18s FAILED (%v)\n", c.name+":", err)
			continue
		}
		passed++
		if detail != "" {
			fmt.Fprintf(out, "%-18s OK (%s)\n", c.name+":", detail)
		} else {
			fmt.Fprintf(out, "%-18s OK\n", c.name+":")
		}
	}
	return passed, len(checks)
}

func checkDatabase(ctx context.Context) (string, error) {
	if database.DB == nil {
		if err := database.ConnectWithConfig(cfg.DatabaseURL, &cfg.Unified().Database); err != nil {
			return "", err
		}
	}
	return "", database.HealthCheck(ctx)
}

func checkSchema(ctx context.Context) (string, error) {
	if database.DB == nil {
		return "", fmt.Errorf("no database connection")
	}
	missing, err := database.MissingTables(ctx, database.DB, database.RequiredTables)
	if err != nil {
		return "", err
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing tables: %s", strings.Join(missing, ", "))
	}
	return fmt.Sprintf("%d tables", len(database.RequiredTables)), nil
}

func checkData(ctx context.Context) (string, error) {
	if database.DB == nil {
		return "", fmt.Errorf("no database connection")
	}
	grantService := services.NewGrantService(database.DB)
	grants, err := grantService.GetOpenGrants(ctx)
	if err != nil {
		return "", err
	}
	sources, err := grantService.GetSources(ctx)
	if err != nil {
		return "", err
	}
	active := 0
	for _, src := range sources {
		if src.Active {
			active++
		}
	}
	profiles, err := services.NewPostgresProfileStore(database.DB).GetActiveProfiles(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d open grants, %d/%d active sources, %d profiles with alerts", len(grants), active, len(sources), len(profiles)), nil
}

func checkRedis(ctx context.Context) (string, error) {
	client, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return "", err
	}
	defer client.Close()

	queued, err := services.NewRedisDeliveryQueue(client, cfg.Unified().Delivery.QueueKey).Len(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d deliveries queued", queued), nil
}

// checkTelegram calls getMe, which validates the bot token without sending anything
func checkTelegram(ctx context.Context) (string, error) {
	factory := shared.NewHTTPClientFactory(10 * time.Second)
	defer factory.CleanupAllClients()

	client := factory.CreateRetryableClient(10*time.Second, 1, "HealthCheck")
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	endpoint := strings.TrimRight(cfg.TelegramAPIURL, "/") + "/bot" + cfg.TelegramBotToken + "/getMe"
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %s", strings.ReplaceAll(err.Error(), cfg.TelegramBotToken, "<redacted>"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	if !gjson.GetBytes(body, "ok").Bool() {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, gjson.GetBytes(body, "description").String())
	}
	return "@" + gjson.GetBytes(body, "result.username").String(), nil
}

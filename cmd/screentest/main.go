// Command screentest runs a screening conversation in the terminal against
// the configured Gemini model, using the same service as the API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/psychiatrai/internal/app/bootstrap"
	appconfig "github.com/wolfman30/psychiatrai/internal/config"
	"github.com/wolfman30/psychiatrai/internal/prompts"
	"github.com/wolfman30/psychiatrai/internal/screening"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

func main() {
	showAnalysis := flag.Bool("show-analysis", false, "print the model's analysis and explanation after each turn")
	flag.Parse()

	if err := godotenv.Load("secrets.env"); err != nil {
		if err := godotenv.Load(); err != nil {
			log.Println("No secrets.env or .env file found, using environment variables")
		}
	}

	cfg := appconfig.Load()
	cfg.SessionBackend = bootstrap.BackendMemory
	logger := logging.NewWithFormat(getLogLevel(cfg), "text")

	ctx := context.Background()
	rt, err := bootstrap.BuildScreeningRuntime(ctx, cfg, logger, prometheus.NewRegistry(), nil)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	defer rt.Close()

	sessionID := uuid.NewString()
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Screening session %s (model %s)\n", sessionID, cfg.GeminiModelID)
	fmt.Println("Type your answers. An empty line or Ctrl-D ends the session.")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("\n🤖 %s\n", prompts.OpeningQuestion)

	scanner := bufio.NewScanner(os.Stdin)
	for turn := 0; ; turn++ {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		answer := strings.TrimSpace(scanner.Text())
		if answer == "" {
			break
		}

		turnCtx, cancel := context.WithTimeout(ctx, cfg.ModelTimeout+cfg.ScoringTimeout)
		start := time.Now()
		result, err := rt.Service.ProcessTurn(turnCtx, screening.TurnInput{
			Modality:    screening.ModalityText,
			TextContent: answer,
			SessionID:   sessionID,
			TurnCount:   turn,
		})
		cancel()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			turn--
			continue
		}

		fmt.Printf("\n🤖 %s\n", result.FollowupMessage)
		if *showAnalysis {
			if result.Analysis != nil {
				fmt.Printf("   analysis: %s\n", *result.Analysis)
			}
			if result.Explanation != nil {
				fmt.Printf("   explanation: %s\n", *result.Explanation)
			}
			fmt.Printf("   (%v)\n", time.Since(start).Round(time.Millisecond))
		}
		if result.Terminate {
			printSummary(result)
			return
		}
	}
	fmt.Println("\nSession ended before the screening completed.")
}

func printSummary(result *screening.TurnResult) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("Screening summary")
	fmt.Println(strings.Repeat("=", 60))
	out, err := json.MarshalIndent(struct {
		LikelyConditions      any `json:"likely_conditions"`
		SelectedQuestionnaire any `json:"selected_questionnaire"`
		EstimatedScores       any `json:"estimated_questionnaire_scores"`
	}{result.LikelyConditions, result.SelectedQuestionnaire, result.EstimatedScores}, "", "  ")
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}
	fmt.Println(string(out))
}

func getLogLevel(cfg *appconfig.Config) string {
	if cfg.LogLevel == "info" {
		return "warn"
	}
	return cfg.LogLevel
}

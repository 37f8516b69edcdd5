package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/cexll/jira-relay/internal/activity"
	"github.com/cexll/jira-relay/internal/config"
	"github.com/cexll/jira-relay/internal/dispatcher"
	"github.com/cexll/jira-relay/internal/relay"
	"github.com/cexll/jira-relay/internal/taskstore"
	"github.com/cexll/jira-relay/internal/web"
	"github.com/cexll/jira-relay/internal/webhook"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
)

var (
	loadDotEnv         = godotenv.Load
	newTaskStore       = taskstore.NewStore
	openActivityStore  = activity.Open
	newDispatcher      = dispatcher.New
	defaultListenServe = http.ListenAndServe
)

func main() {
	if err := run(context.Background(), defaultListenServe); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run(ctx context.Context, serve func(string, http.Handler) error) error {
	// Load .env file (ignore error if file doesn't exist)
	_ = loadDotEnv()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Printf("Starting jira-relay server...")
	log.Printf("Port: %d", cfg.Port)
	log.Printf("Jira: %s (auth: %s, rate limit: %.2f/s)", cfg.JiraBaseURL, cfg.JiraAuth, cfg.JiraRateLimit)
	log.Printf("Relay batch size: %d, call limit: %d, margin: %d", cfg.BatchSize, cfg.CallLimit, cfg.BudgetMargin)
	log.Printf("Dispatcher workers: %d, queue size: %d", cfg.DispatcherWorkers, cfg.DispatcherQueueSize)

	jiraClient, err := cfg.NewJiraClient()
	if err != nil {
		return fmt.Errorf("failed to initialize jira client: %w", err)
	}

	// Activity source
	activities, err := openActivityStore(cfg.ActivityDBPath)
	if err != nil {
		return fmt.Errorf("failed to open activity store: %w", err)
	}
	defer activities.Close()
	log.Printf("Activity store: %s", cfg.ActivityDBPath)

	// Run log for the API
	runStore := newTaskStore()

	// Relay service
	svc := relay.NewService(activities, jiraClient, relay.Config{
		BatchSize:    cfg.BatchSize,
		CallLimit:    cfg.CallLimit,
		BudgetMargin: cfg.BudgetMargin,
	})
	svc.WithStore(runStore)

	// Initialize dispatcher (unit queue with delayed redispatch)
	unitDispatcher := newDispatcher(svc, dispatcher.Config{
		Workers:           cfg.DispatcherWorkers,
		QueueSize:         cfg.DispatcherQueueSize,
		InitialBackoff:    cfg.DispatcherRetryInitial,
		BackoffMultiplier: cfg.DispatcherBackoffMultiplier,
		MaxBackoff:        cfg.DispatcherRetryMax,
	})
	defer unitDispatcher.Shutdown(ctx)
	svc.AttachQueue(unitDispatcher)

	// Setup router
	r := mux.NewRouter()

	// Webhook endpoint
	if cfg.GitHubWebhookSecret != "" {
		handler := webhook.NewHandler(cfg.GitHubWebhookSecret, activities, svc)
		r.HandleFunc("/webhook", handler.Handle).Methods("POST")
	} else {
		log.Printf("GITHUB_WEBHOOK_SECRET not set, /webhook disabled")
	}

	// API endpoints
	web.NewHandler(activities, svc, runStore).RegisterRoutes(r)

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Root endpoint with info
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"service":    "jira-relay",
			"status":     "running",
			"jira":       cfg.JiraBaseURL,
			"batch_size": cfg.BatchSize,
			"call_limit": cfg.CallLimit,
			"pending":    unitDispatcher.Pending(),
		})
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("Server listening on %s", addr)
	log.Printf("Comment endpoint: http://localhost%s/comments", addr)
	log.Printf("Health check: http://localhost%s/health", addr)
	log.Printf("Units: http://localhost%s/units", addr)

	if err := serve(addr, r); err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/SymptomLabs/TriageFlow/internal/auth"
	"github.com/SymptomLabs/TriageFlow/internal/dispatch"
	"github.com/SymptomLabs/TriageFlow/internal/gateway"
	"github.com/SymptomLabs/TriageFlow/internal/models"
	"github.com/SymptomLabs/TriageFlow/internal/util"
	"github.com/SymptomLabs/TriageFlow/internal/workflow"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultBaseURL targets a locally running diagnosis backend
	DefaultBaseURL = "http://localhost:8000"
	// DefaultMaxTries bounds transport retries per node call
	DefaultMaxTries = 3
)

func main() {
	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Initialize structured logger
	initializeLogger(*flags.debug)

	// Resolve caller identity when a token secret is available
	identity, err := resolveIdentity(flags)
	if err != nil {
		slog.Error("Session token rejected", "error", err)
		os.Exit(1)
	}

	// Build module options
	gatewayOpts := buildGatewayOptions(flags)

	client, err := gateway.NewClient(gatewayOpts...)
	if err != nil {
		slog.Error("Failed to create backend client", "error", err)
		os.Exit(1)
	}

	controller := workflow.NewController(client)
	dispatcher := buildDispatcher()

	slog.Info("Bootstrapping TriageFlow session", "baseURL", *flags.baseURL, "subject", identity.Subject, "role", identity.Role)
	if err := runSession(context.Background(), controller, dispatcher, flags); err != nil {
		slog.Error("TriageFlow session failed", "error", err)
		os.Exit(1)
	}
	slog.Info("TriageFlow session finished")
}

// Config holds environment configuration
type Config struct {
	BaseURL      string
	SessionToken string
	TokenSecret  string
	Timeout      time.Duration
	MaxTries     uint
	Debug        bool
}

// Flags holds command line flag values
type Flags struct {
	baseURL      *string
	sessionToken *string
	tokenSecret  *string
	timeout      *time.Duration
	retries      *uint
	symptoms     *string
	imagePath    *string
	debug        *bool
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BaseURL:      os.Getenv("TRIAGEFLOW_BASE_URL"),
		SessionToken: os.Getenv("TRIAGEFLOW_SESSION_TOKEN"),
		TokenSecret:  os.Getenv("TRIAGEFLOW_TOKEN_SECRET"),
		Timeout:      util.ParseDurationEnv("TRIAGEFLOW_TIMEOUT", gateway.DefaultTimeout),
		MaxTries:     util.ParseUintEnv("TRIAGEFLOW_MAX_TRIES", DefaultMaxTries),
		Debug:        util.ParseBoolEnv("TRIAGEFLOW_DEBUG", false),
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
		slog.Debug("No TRIAGEFLOW_BASE_URL set, using default", "default_base_url", config.BaseURL)
	}

	slog.Debug("environment variables loaded",
		"TRIAGEFLOW_BASE_URL", config.BaseURL,
		"TRIAGEFLOW_SESSION_TOKEN_SET", config.SessionToken != "",
		"TRIAGEFLOW_TOKEN_SECRET_SET", config.TokenSecret != "",
		"TRIAGEFLOW_TIMEOUT", config.Timeout,
		"TRIAGEFLOW_MAX_TRIES", config.MaxTries)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		baseURL:      flag.String("base-url", config.BaseURL, "diagnosis backend base URL (overrides $TRIAGEFLOW_BASE_URL)"),
		sessionToken: flag.String("session-token", config.SessionToken, "bearer token for backend requests (overrides $TRIAGEFLOW_SESSION_TOKEN)"),
		tokenSecret:  flag.String("token-secret", config.TokenSecret, "HS256 secret for local token verification (overrides $TRIAGEFLOW_TOKEN_SECRET)"),
		timeout:      flag.Duration("timeout", config.Timeout, "per-call timeout (overrides $TRIAGEFLOW_TIMEOUT)"),
		retries:      flag.Uint("retries", config.MaxTries, "max attempts per node call on transport failure (overrides $TRIAGEFLOW_MAX_TRIES)"),
		symptoms:     flag.String("symptoms", "", "symptom description; read from stdin when empty"),
		imagePath:    flag.String("image", "", "path to a medical image to upload when requested"),
		debug:        flag.Bool("debug", config.Debug, "enable debug logging (overrides $TRIAGEFLOW_DEBUG)"),
	}

	flag.Parse()
	return flags
}

// resolveIdentity verifies the session token locally when a secret is
// configured. A token that fails verification refuses the session up front;
// the backend would reject it on the first call anyway. Without a secret the
// token is passed through unverified and the caller is treated as a patient.
func resolveIdentity(flags Flags) (auth.Identity, error) {
	if *flags.sessionToken == "" || *flags.tokenSecret == "" {
		return auth.Identity{Role: auth.RolePatient}, nil
	}
	resolver := auth.NewResolver(*flags.tokenSecret)
	identity, err := resolver.Resolve(*flags.sessionToken)
	if err != nil {
		return auth.Identity{}, err
	}
	if identity.Role != auth.RolePatient {
		return auth.Identity{}, fmt.Errorf("role %s cannot start a diagnosis session", identity.Role)
	}
	return identity, nil
}

// buildGatewayOptions constructs backend client configuration options
func buildGatewayOptions(flags Flags) []gateway.Option {
	opts := []gateway.Option{
		gateway.WithBaseURL(strings.TrimRight(*flags.baseURL, "/")),
		gateway.WithTimeout(*flags.timeout),
	}
	if *flags.sessionToken != "" {
		opts = append(opts, gateway.WithAuthToken(*flags.sessionToken))
	}
	if *flags.retries > 1 {
		opts = append(opts, gateway.WithRetry(*flags.retries))
	}
	return opts
}

// buildDispatcher registers a display handler for every reachable stage and
// validates coverage before the session starts.
func buildDispatcher() *dispatch.Dispatcher {
	d := dispatch.NewDispatcher()
	for _, stage := range models.ReachableStages() {
		description := models.StageInfoMap[stage].Description
		if err := d.Register(stage, func(ctx context.Context, snap *models.PipelineSnapshot, hint *models.RoutingHint) error {
			printStageBanner(description, snap, hint)
			return nil
		}); err != nil {
			slog.Error("Dispatcher registration failed", "stage", stage, "error", err)
			os.Exit(1)
		}
	}
	if err := d.Validate(); err != nil {
		slog.Error("Dispatcher validation failed", "error", err)
		os.Exit(1)
	}
	return d
}

// printStageBanner renders the current stage for the terminal user.
func printStageBanner(description string, snap *models.PipelineSnapshot, hint *models.RoutingHint) {
	fmt.Println()
	fmt.Printf("== %s ==\n", description)
	if snap == nil {
		return
	}
	for _, candidate := range snap.SymptomCandidates {
		fmt.Printf("  possible condition: %s (confidence %.2f)\n", candidate.TextDiagnosis, candidate.DiagnosisConfidence)
	}
	if hint != nil && hint.NextStepDescription != "" {
		fmt.Printf("  next: %s\n", hint.NextStepDescription)
	}
}

// runSession drives one diagnosis workflow from symptom entry to report.
func runSession(ctx context.Context, controller *workflow.Controller, dispatcher *dispatch.Dispatcher, flags Flags) error {
	reader := bufio.NewReader(os.Stdin)

	symptoms := *flags.symptoms
	if symptoms == "" {
		fmt.Print("Describe your symptoms: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading symptoms: %w", err)
		}
		symptoms = strings.TrimSpace(line)
	}

	if err := controller.SubmitSymptoms(ctx, symptoms); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	for {
		stage := controller.Stage()
		if err := dispatcher.Dispatch(ctx, stage, controller.Snapshot(), controller.Routing()); err != nil {
			return err
		}

		switch stage {
		case models.StageWorkflowComplete:
			printReport(controller.Snapshot())
			return nil

		case models.StageError:
			return fmt.Errorf("session entered the error stage: %w", controller.Err())

		case models.StageAwaitingFollowupResponses:
			answers, err := collectFollowupAnswers(reader, controller.Snapshot())
			if err != nil {
				return err
			}
			if err := controller.SubmitFollowupAnswers(ctx, answers); err != nil {
				slog.Error("Follow-up submission failed; answers can be resent", "error", err)
				return err
			}

		case models.StageAwaitingImageUpload:
			if err := submitImage(ctx, controller, reader, *flags.imagePath); err != nil {
				return err
			}

		default:
			if err := controller.Advance(ctx); err != nil {
				return err
			}
		}
	}
}

// collectFollowupAnswers prompts for every generated question and validates
// the round before submission.
func collectFollowupAnswers(reader *bufio.Reader, snap *models.PipelineSnapshot) (map[string]string, error) {
	if snap == nil || len(snap.FollowupQuestions) == 0 {
		return nil, fmt.Errorf("backend requested follow-up answers but provided no questions")
	}
	answers := make(map[string]string, len(snap.FollowupQuestions))
	for _, question := range snap.FollowupQuestions {
		fmt.Printf("%s\n> ", question)
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("reading answer: %w", err)
		}
		answers[question] = strings.TrimSpace(line)
	}
	if err := models.ValidateFollowupAnswers(snap.FollowupQuestions, answers); err != nil {
		return nil, err
	}
	return answers, nil
}

// submitImage uploads the configured image, or runs the node without one when
// no path was given.
func submitImage(ctx context.Context, controller *workflow.Controller, reader *bufio.Reader, imagePath string) error {
	if imagePath == "" {
		fmt.Print("Path to medical image (empty to skip): ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading image path: %w", err)
		}
		imagePath = strings.TrimSpace(line)
	}
	if imagePath == "" {
		slog.Info("No image provided; running image analysis without one")
		return controller.SubmitImage(ctx, nil, "")
	}
	file, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()
	return controller.SubmitImage(ctx, file, filepath.Base(imagePath))
}

// printReport renders the final medical report.
func printReport(snap *models.PipelineSnapshot) {
	if snap == nil {
		return
	}
	fmt.Println()
	if report := snap.TrustedMedicalReport(); report != "" {
		fmt.Println(report)
		return
	}
	if overall := snap.TrustedOverallAnalysis(); overall != nil {
		fmt.Printf("Assessment: %s (%s)\n", overall.FinalDiagnosis, overall.FinalSeverity)
		if overall.UserExplanation != "" {
			fmt.Println(overall.UserExplanation)
		}
		if snap.HealthcareRecommendation != "" {
			fmt.Printf("Recommendation: %s\n", snap.HealthcareRecommendation)
		}
	}
}

// Package main implements the reminder-runner CLI tool for invoking the
// reminder pipeline directly, bypassing the worker Lambda.
//
// This tool is intended for local development, manual re-runs and
// operational debugging. It constructs a scheduler.ReminderPayload and either
// prints it (for a manual Lambda invocation) or executes it against the
// configured database.
//
// Usage:
//
//	go run ./cmd/tools/reminder-runner --action=tick --reference-time=2026-01-15T09:00:00Z
//	go run ./cmd/tools/reminder-runner --action=send --appointment=<id> --type=sms
//	go run ./cmd/tools/reminder-runner --dry-run --action=send_all
//	go run ./cmd/tools/reminder-runner --issue-token --subject=desk-1 --name="Front desk"
//	go run ./cmd/tools/reminder-runner --list
//
// Configuration is read from the environment (or a .env file) exactly as the
// API does. --issue-token only needs OPERATOR_JWT_SECRET.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"sphyra/internal/app"
	"sphyra/internal/config"
	"sphyra/internal/core"
	"sphyra/internal/scheduler"
	"sphyra/internal/types"
)

// validActions is the exhaustive set of actions the worker supports.
var validActions = map[scheduler.Action]string{
	scheduler.ActionTick:    "Evaluate one scheduler minute (time match + job lock)",
	scheduler.ActionSendAll: "Send all due reminders now, ignoring time and lock",
	scheduler.ActionSend:    "Send one reminder (--appointment, --type)",
}

const defaultTokenTTL = 12 * time.Hour

func main() {
	actionFlag := flag.String("action", "", "Action to execute (tick, send_all, send)")
	appointmentFlag := flag.String("appointment", "", "Appointment ID for --action=send")
	typeFlag := flag.String("type", "", "Reminder type for --action=send (email, sms)")
	refTimeFlag := flag.String("reference-time", "", "Override reference time for a tick (RFC3339, e.g., 2026-01-15T09:00:00Z)")
	listFlag := flag.Bool("list", false, "List all available actions and exit")
	dryRunFlag := flag.Bool("dry-run", false, "Print the JSON payload without executing")
	issueFlag := flag.Bool("issue-token", false, "Print a signed operator bearer token and exit")
	subjectFlag := flag.String("subject", "", "Operator subject for --issue-token")
	nameFlag := flag.String("name", "", "Operator display name for --issue-token")
	ttlFlag := flag.Duration("ttl", defaultTokenTTL, "Lifetime of the issued operator token")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: reminder-runner [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Invoke reminder actions directly, bypassing Lambda.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nUse --list to see all available actions.\n")
	}

	flag.Parse()

	if *listFlag {
		printAvailableActions()
		return
	}

	// Load .env file for local development (non-fatal if missing).
	_ = godotenv.Load()

	if *issueFlag {
		tok, err := issueToken(os.Getenv("OPERATOR_JWT_SECRET"), *subjectFlag, *nameFlag, *ttlFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(tok)
		return
	}

	payload, err := buildPayload(*actionFlag, *appointmentFlag, *typeFlag, *refTimeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if *dryRunFlag {
		printPayload(payload)
		return
	}

	logger := app.NewLogger(os.Getenv("LOG_LEVEL"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	result, err := execute(ctx, payload, logger)
	if err != nil {
		logger.Error("action failed",
			"action", string(payload.Action),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("action succeeded",
		"action", string(payload.Action),
		"result", result,
	)
}

// buildPayload validates the flags and assembles the worker payload.
func buildPayload(action, appointmentID, typ, refTime string) (scheduler.ReminderPayload, error) {
	var payload scheduler.ReminderPayload
	if action == "" {
		return payload, errors.New("--action is required")
	}
	payload.Action = scheduler.Action(action)
	if _, ok := validActions[payload.Action]; !ok {
		return payload, fmt.Errorf("unknown action %q", action)
	}

	if payload.Action == scheduler.ActionSend {
		if appointmentID == "" {
			return payload, errors.New("--appointment is required for send")
		}
		payload.AppointmentID = appointmentID
		payload.Type = types.ReminderEmail
		if typ != "" {
			payload.Type = types.ReminderType(typ)
		}
		if !payload.Type.Valid() {
			return payload, fmt.Errorf("invalid --type %q (want email or sms)", typ)
		}
	}

	if refTime != "" {
		if payload.Action != scheduler.ActionTick {
			return payload, errors.New("--reference-time only applies to tick")
		}
		t, err := time.Parse(time.RFC3339, refTime)
		if err != nil {
			return payload, fmt.Errorf("invalid --reference-time %q: %w", refTime, err)
		}
		payload.ReferenceTime = &t
	}
	return payload, nil
}

// issueToken signs an operator token with the API's secret.
func issueToken(secret, subject, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("OPERATOR_JWT_SECRET is not set")
	}
	if subject == "" {
		return "", errors.New("--subject is required with --issue-token")
	}
	if ttl <= 0 {
		return "", errors.New("--ttl must be positive")
	}
	auth := core.NewJWTAuthenticator(types.SecretString(secret), nil)
	return auth.Sign(types.Operator{Subject: subject, Name: name}, ttl)
}

// execute wires the application from configuration and runs the payload the
// same way the worker Lambda does. Ticks take the distributed lock under a
// runner-specific instance ID.
func execute(ctx context.Context, payload scheduler.ReminderPayload, logger *slog.Logger) (string, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return "", fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Reminder.InstanceID = "reminder-runner-" + uuid.NewString()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return "", err
	}
	defer a.Close()

	logger.Info("executing action",
		"action", string(payload.Action),
		"instance_id", cfg.Reminder.InstanceID,
	)

	switch payload.Action {
	case scheduler.ActionTick:
		now := time.Now().UTC()
		if payload.ReferenceTime != nil {
			now = payload.ReferenceTime.UTC()
		}
		outcome := a.Scheduler.TickAt(ctx, now)
		if outcome == scheduler.OutcomeFailed {
			return "", fmt.Errorf("reminder batch failed")
		}
		return string(outcome), nil

	case scheduler.ActionSendAll:
		res, err := a.Scheduler.TriggerNow(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d total, %d sent, %d failed", res.Total, res.Sent, res.Failed), nil

	default:
		res := a.Orchestrator.SendReminderForAppointment(ctx, payload.AppointmentID, payload.Type)
		if !res.Success {
			return "", fmt.Errorf("%s (%s)", res.Error, res.Code)
		}
		return "reminder " + res.ReminderID + " sent", nil
	}
}

// printAvailableActions prints all valid actions with descriptions.
func printAvailableActions() {
	fmt.Fprintf(os.Stderr, "Available actions:\n\n")

	actions := make([]scheduler.Action, 0, len(validActions))
	for a := range validActions {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool {
		return string(actions[i]) < string(actions[j])
	})

	maxLen := 0
	for _, a := range actions {
		if len(string(a)) > maxLen {
			maxLen = len(string(a))
		}
	}

	for _, a := range actions {
		fmt.Fprintf(os.Stderr, "  %-*s  %s\n", maxLen, string(a), validActions[a])
	}
	fmt.Fprintln(os.Stderr)
}

// printPayload prints the payload as indented JSON on stdout, suitable for
// `aws lambda invoke --payload`.
func printPayload(payload scheduler.ReminderPayload) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to marshal payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(data))
	fmt.Fprintf(os.Stderr, "\nAction: %s\nDescription: %s\n", payload.Action, validActions[payload.Action])
}

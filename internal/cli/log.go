package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/setlog/internal/api"
	"example.com/setlog/internal/remote"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	ExerciseID   string
	ActivityKind string
	Note         string
	PerformedAt  string
	Sets         []string
}

// LogResult is the output of the log command.
type LogResult struct {
	MutationID       string `json:"mutation_id"`
	ClientMutationID string `json:"client_mutation_id"`
	Operation        string `json:"operation"`
	Sets             int    `json:"sets"`
}

// NewLogCommand creates the log command. It records a workout log into the
// local queue without touching the network; a later sync pass delivers it.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record an exercise log in the local queue",
		Long: `Record an exercise log in the local queue.

The entry is stored durably and replayed to the server by "setlog sync"
or "setlog watch". Each --set flag describes one set as comma-separated
key=value pairs:

  number=N        set position (defaults to flag order)
  reps=N          repetition count
  duration=N      duration in seconds
  distance=F      distance in meters
  side=S          left, right or both
  manual=true     reps were counted manually
  partial=true    set includes partial reps
  form=K:V;K:V    named form parameters

Examples:
  setlog log --exercise bench-press --kind strength --set reps=10 --set reps=8,form=grip:wide
  setlog log --exercise plank --kind isometric --set duration=60,side=both`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ExerciseID, "exercise", "", "exercise identifier (required)")
	_ = cmd.MarkFlagRequired("exercise")
	cmd.Flags().StringVar(&opts.ActivityKind, "kind", "", "activity kind (required)")
	_ = cmd.MarkFlagRequired("kind")
	cmd.Flags().StringVar(&opts.Note, "note", "", "free-form note")
	cmd.Flags().StringVar(&opts.PerformedAt, "performed-at", "", "RFC3339 timestamp (defaults to now)")
	cmd.Flags().StringArrayVar(&opts.Sets, "set", nil, "set description as key=value pairs (repeatable, required)")
	_ = cmd.MarkFlagRequired("set")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	performedAt := time.Now().UTC()
	if opts.PerformedAt != "" {
		parsed, err := time.Parse(time.RFC3339, opts.PerformedAt)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --performed-at", err)
		}
		performedAt = parsed
	}

	request := api.RecordLogRequest{
		ExerciseID:       opts.ExerciseID,
		ActivityKind:     opts.ActivityKind,
		Note:             opts.Note,
		PerformedAt:      performedAt,
		ClientMutationID: uuid.NewString(),
	}
	for i, spec := range opts.Sets {
		set, err := parseSetSpec(spec, i+1)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid --set %q", spec), err)
		}
		request.Sets = append(request.Sets, set)
	}

	arguments, err := json.Marshal(request)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode log entry", err)
	}

	q, closer, err := openQueue(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer()

	mutationID, err := q.Enqueue(ctx, remote.OperationRecordLog, arguments)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to enqueue log entry", err)
	}

	result := LogResult{
		MutationID:       mutationID,
		ClientMutationID: request.ClientMutationID,
		Operation:        remote.OperationRecordLog,
		Sets:             len(request.Sets),
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), Response{Status: "ok", Data: result})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued log for %s (%d set(s), mutation %s)\n",
		opts.ExerciseID, result.Sets, mutationID)
	if opts.Verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "  client mutation id: %s\n", request.ClientMutationID)
	}
	return nil
}

// parseSetSpec decodes one --set flag value into a set payload.
func parseSetSpec(spec string, defaultNumber int) (api.SetPayload, error) {
	set := api.SetPayload{SetNumber: defaultNumber}

	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return api.SetPayload{}, fmt.Errorf("expected key=value, got %q", pair)
		}
		switch key {
		case "number":
			n, err := strconv.Atoi(value)
			if err != nil {
				return api.SetPayload{}, fmt.Errorf("number: %w", err)
			}
			set.SetNumber = n
		case "reps":
			n, err := strconv.Atoi(value)
			if err != nil {
				return api.SetPayload{}, fmt.Errorf("reps: %w", err)
			}
			set.Reps = &n
		case "duration":
			n, err := strconv.Atoi(value)
			if err != nil {
				return api.SetPayload{}, fmt.Errorf("duration: %w", err)
			}
			set.DurationSec = &n
		case "distance":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return api.SetPayload{}, fmt.Errorf("distance: %w", err)
			}
			set.DistanceM = &f
		case "side":
			set.Side = value
		case "manual":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return api.SetPayload{}, fmt.Errorf("manual: %w", err)
			}
			set.ManualReps = b
		case "partial":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return api.SetPayload{}, fmt.Errorf("partial: %w", err)
			}
			set.PartialReps = b
		case "form":
			params, err := parseFormSpec(value)
			if err != nil {
				return api.SetPayload{}, err
			}
			set.FormData = append(set.FormData, params...)
		default:
			return api.SetPayload{}, fmt.Errorf("unknown key %q", key)
		}
	}
	return set, nil
}

// parseFormSpec decodes "name:value;name:value" into form parameters.
func parseFormSpec(spec string) ([]api.FormParameterPayload, error) {
	var params []api.FormParameterPayload
	for _, pair := range strings.Split(spec, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("form: expected name:value, got %q", pair)
		}
		params = append(params, api.FormParameterPayload{Name: name, Value: value})
	}
	return params, nil
}

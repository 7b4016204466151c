package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/limen/internal/limen/lifecycle"
	"github.com/BrandonDHaskell/limen/internal/limen/risk"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

// evalInput is an offline request file.  Either a bare access request, or
// a document with "request" and optional "recent" keys.
type evalInput struct {
	Request types.AccessRequest   `json:"request"`
	Recent  []types.AccessRequest `json:"recent,omitempty"`
}

type evalFlags struct {
	file string
	at   string
	tz   string
}

func (f *evalFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "",
		"Request file in YAML or JSON (- for stdin). *_at fields take RFC3339 or YYYY-MM-DD[ HH:MM[:SS]], zone-less as UTC")
	cmd.Flags().StringVar(&f.at, "at", "", "Evaluation time, RFC3339 (default now)")
	cmd.Flags().StringVar(&f.tz, "tz", "", "Business time zone (default LIMEN_BUSINESS_TZ)")
	_ = cmd.MarkFlagRequired("file")
}

func newAssessCmd(a *app) *cobra.Command {
	var f evalFlags
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Score a request file and print the risk assessment",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, now, err := f.load(a, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), risk.Assess(in.Request, in.Recent, now))
		},
	}
	f.bind(cmd)
	return cmd
}

type stepsOutput struct {
	ID         string                             `json:"id,omitempty"`
	Status     types.Status                       `json:"status"`
	Actionable bool                               `json:"actionable"`
	Actions    []lifecycle.Action                 `json:"actions"`
	Steps      [lifecycle.NumSteps]lifecycle.Step `json:"steps"`
}

func newStepsCmd(a *app) *cobra.Command {
	var f evalFlags
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Derive the lifecycle steps of a request file",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, now, err := f.load(a, cmd.InOrStdin())
			if err != nil {
				return err
			}
			req := in.Request
			return writeIndented(cmd.OutOrStdout(), stepsOutput{
				ID:         req.ID,
				Status:     req.Status.Normalized(),
				Actionable: lifecycle.Actionable(req),
				Actions:    lifecycle.NextActions(req),
				Steps:      lifecycle.DeriveSteps(req, now),
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func (f *evalFlags) load(a *app, stdin io.Reader) (evalInput, time.Time, error) {
	loc := a.cfg.BusinessTZ
	if loc == nil {
		loc = time.UTC
	}
	if f.tz != "" {
		l, err := time.LoadLocation(f.tz)
		if err != nil {
			return evalInput{}, time.Time{}, fmt.Errorf("--tz: %w", err)
		}
		loc = l
	}

	now := time.Now()
	if f.at != "" {
		t, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return evalInput{}, time.Time{}, fmt.Errorf("--at: %w", err)
		}
		now = t
	}
	now = now.In(loc)

	var raw []byte
	var err error
	if f.file == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(f.file)
	}
	if err != nil {
		return evalInput{}, time.Time{}, fmt.Errorf("read request file: %w", err)
	}

	in, err := parseEvalInput(raw)
	if err != nil {
		return evalInput{}, time.Time{}, err
	}
	return in, now, nil
}

// parseEvalInput accepts YAML or JSON.  YAML is decoded generically and
// re-encoded as JSON so both formats share the JSON field names.
func parseEvalInput(raw []byte) (evalInput, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return evalInput{}, fmt.Errorf("parse request file: %w", err)
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return evalInput{}, fmt.Errorf("parse request file: expected a mapping at top level")
	}

	if err := normalizeTimes(m); err != nil {
		return evalInput{}, fmt.Errorf("parse request file: %w", err)
	}

	b, err := json.Marshal(m)
	if err != nil {
		return evalInput{}, fmt.Errorf("normalize request file: %w", err)
	}

	var in evalInput
	if _, wrapped := m["request"]; wrapped {
		err = json.Unmarshal(b, &in)
	} else {
		err = json.Unmarshal(b, &in.Request)
	}
	if err != nil {
		return evalInput{}, fmt.Errorf("decode request: %w", err)
	}
	return in, nil
}

// timeLayouts are accepted for *_at fields besides YAML's own timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// normalizeTimes rewrites string values of *_at keys, at any depth, to
// time.Time so the JSON decode step sees RFC3339.  Zone-less values are UTC.
func normalizeTimes(v any) error {
	switch node := v.(type) {
	case map[string]any:
		for k, val := range node {
			if s, ok := val.(string); ok && strings.HasSuffix(k, "_at") {
				t, err := parseTime(s)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				node[k] = t
				continue
			}
			if err := normalizeTimes(val); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range node {
			if err := normalizeTimes(val); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

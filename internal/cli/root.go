// Package cli wires flags, environment defaults, and payload handling
// into one dispatch run.
package cli

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/logging"
	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/nomad"
	"github.com/kshpytsya/nomad-sync-job-dispatch/internal/runner"
)

// NewRootCmd creates the root cobra command.
//
// Help strings with direct counterparts in "nomad job dispatch" are kept
// close to theirs.
func NewRootCmd() *cobra.Command {
	var (
		flagAddress           string
		flagRegion            string
		flagNamespace         string
		flagToken             string
		flagMeta              []string
		flagMetaFile          string
		flagIDPrefixTemplate  string
		flagNomadTimeout      time.Duration
		flagAllocTimeout      time.Duration
		flagAllocTimeoutStep  time.Duration
		flagTasks             []string
		flagPrefixTask        bool
		flagColorTask         bool
		flagLogPollInterval   time.Duration
		flagAllocPollInterval time.Duration
		flagLogLevel          string
		flagLogFormat         string
		flagDebug             bool
	)

	root := &cobra.Command{
		Use:   "nomad-sync-job-dispatch [flags] JOB [INPUT]",
		Short: "Dispatch a parameterized Nomad job and wait for its completion",
		Long: `Create an instance of a parameterized Nomad JOB and wait for its
completion, streaming the job's stdout and stderr.

A data payload for the dispatched instance can be provided via stdin by
using "-" as INPUT, or by specifying a path to a file. Metadata can be
supplied with the --meta flag one or more times.

An attempt is made to stop the dispatched job if this tool is
interrupted with a signal.

Exit status is 0 only when the job's allocation finishes with client
status "complete".`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger := logging.New(flagLogLevel, flagLogFormat)

			payload, err := readPayload(cmd, args)
			if err != nil {
				return err
			}

			meta, err := buildMeta(flagMeta, flagMetaFile)
			if err != nil {
				return err
			}

			cfg := nomad.ConfigFromEnv()
			if flagAddress != "" {
				cfg.Address = flagAddress
			}
			if flagRegion != "" {
				cfg.Region = flagRegion
			}
			if flagNamespace != "" {
				cfg.Namespace = flagNamespace
			}
			if flagToken != "" {
				cfg.Token = flagToken
			}
			cfg.Timeout = flagNomadTimeout

			opts := runner.Options{
				AllocTimeout:      flagAllocTimeout,
				AllocTimeoutStep:  flagAllocTimeoutStep,
				LogPollInterval:   flagLogPollInterval,
				AllocPollInterval: flagAllocPollInterval,
				Tasks:             flagTasks,
				PrefixTask:        flagPrefixTask,
				ColorTask:         flagColorTask,
			}

			client := nomad.NewClient(cfg, logger)
			run := runner.New(client, opts, cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)

			status, err := run.Run(cmd.Context(), nomad.DispatchRequest{
				JobID:            args[0],
				Meta:             meta,
				Payload:          payload,
				IDPrefixTemplate: flagIDPrefixTemplate,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return errors.New("aborted")
				}
				return err
			}
			if status != nomad.StatusComplete {
				return fmt.Errorf("dispatched job finished with status %q", status)
			}
			return nil
		},
	}

	root.Flags().StringVar(&flagAddress, "address", "",
		"The address of the Nomad server. Overrides the NOMAD_ADDR environment variable if set.")
	root.Flags().StringVar(&flagRegion, "region", "",
		"The region of the Nomad servers to forward commands to. Overrides the NOMAD_REGION environment variable if set.")
	root.Flags().StringVar(&flagNamespace, "namespace", "",
		"The target namespace for queries and actions bound to a namespace. Overrides the NOMAD_NAMESPACE environment variable if set.")
	root.Flags().StringVar(&flagToken, "token", "",
		"The SecretID of an ACL token to use to authenticate API requests with. Overrides the NOMAD_TOKEN environment variable if set.")
	root.Flags().StringArrayVar(&flagMeta, "meta", nil,
		`Metadata key/value pair separated by "=", merged into the job's metadata. The parameterized job must allow the key to be merged. May be specified multiple times.`)
	root.Flags().StringVar(&flagMetaFile, "meta-file", "",
		"YAML file with metadata key/value pairs. Explicit --meta pairs take precedence on collisions.")
	root.Flags().StringVar(&flagIDPrefixTemplate, "id-prefix-template", "",
		"Prefix template for the dispatched job ID.")
	root.Flags().DurationVar(&flagNomadTimeout, "nomad-timeout", 0,
		"Nomad client API timeout. Zero means no timeout.")
	root.Flags().DurationVar(&flagAllocTimeout, "alloc-timeout", 15*time.Second,
		"Time to wait for the job allocation to be created.")
	root.Flags().DurationVar(&flagAllocTimeoutStep, "alloc-timeout-step", 2*time.Second,
		"Job allocation polling interval.")
	root.Flags().StringArrayVar(&flagTasks, "task", nil,
		"Task to monitor. May be specified multiple times.")
	root.Flags().BoolVar(&flagPrefixTask, "prefix-task", false,
		"Prepend the task name before every output line.")
	root.Flags().BoolVar(&flagColorTask, "color-task", false,
		"Colorize task name prefixes (ignored when output is not a terminal).")
	root.Flags().DurationVar(&flagLogPollInterval, "log-poll-interval", 2*time.Second,
		"Log polling interval.")
	root.Flags().DurationVar(&flagAllocPollInterval, "alloc-poll-interval", 2*time.Second,
		"Allocation status polling interval.")
	root.Flags().StringVar(&flagLogLevel, "log-level", "info",
		"Log level (debug, info, warn, error).")
	root.Flags().StringVar(&flagLogFormat, "log-format", "text",
		"Log format (text, json).")
	root.Flags().BoolVar(&flagDebug, "debug", false,
		"Shorthand for --log-level=debug.")

	return root
}

// readPayload reads the optional dispatch payload ("-" means stdin) and
// enforces the Nomad payload size limit before any network call.
func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) < 2 {
		return nil, nil
	}

	var (
		payload []byte
		err     error
	)
	if args[1] == "-" {
		payload, err = io.ReadAll(cmd.InOrStdin())
	} else {
		payload, err = os.ReadFile(args[1])
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	if encoded := base64.StdEncoding.EncodedLen(len(payload)); encoded > nomad.MaxDispatchPayload {
		return nil, &runner.ValidationError{Msg: fmt.Sprintf(
			"encoded payload size %s exceeds the permitted %s",
			humanize.IBytes(uint64(encoded)),
			humanize.IBytes(nomad.MaxDispatchPayload),
		)}
	}
	return payload, nil
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/mgmt/internal/adapter/agentclient"
	"github.com/xiaot623/gogo/mgmt/internal/config"
	"github.com/xiaot623/gogo/mgmt/internal/domain"
	"github.com/xiaot623/gogo/mgmt/internal/signing"
)

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "Agent id (default $AGENT_ID)")
	cmd.Flags().String("nonce", "", "Request nonce (default random)")
	cmd.Flags().Int64("timestamp", 0, "Unix seconds (default now)")
	cmd.Flags().String("action", "", "Action to request")
	cmd.Flags().String("params", "{}", "Action parameters as a JSON object")
	cmd.Flags().Bool("auto-execute", false, "Ask the receiver to execute instead of suggest")
	cmd.Flags().String("secret", "", "Shared secret (default $AGENT_SHARED_SECRET)")
	_ = cmd.MarkFlagRequired("action")
}

func newSendCmd() *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Sign a command request and post it to the receiver",
		Args:  cobra.NoArgs,
		RunE:  SendHandler,
	}
	addRequestFlags(sendCmd)
	sendCmd.Flags().String("endpoint", "", "Receiver URL (default $MGMT_ENDPOINT)")
	sendCmd.Flags().Duration("timeout", 0, "Request deadline (default none, transport defaults apply)")
	return sendCmd
}

func newSignCmd() *cobra.Command {
	signCmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the canonical body and signature of a command request",
		Args:  cobra.NoArgs,
		RunE:  SignHandler,
	}
	addRequestFlags(signCmd)
	return signCmd
}

// SendHandler builds, signs and posts one request, then prints the raw reply.
func SendHandler(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	env, err := envelopeFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	endpoint := stringFlag(cmd, "endpoint", cfg.Endpoint)

	ctx, cancel := requestContext(cmd)
	defer cancel()

	logger.Debug("sending management request", "endpoint", endpoint, "signature", env.Signature)
	resp, err := agentclient.NewClient(nil).Send(ctx, endpoint, env)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), resp.StatusCode)
	fmt.Fprintln(cmd.OutOrStdout(), string(resp.Body))
	return nil
}

// SignHandler prints the envelope without sending it.
func SignHandler(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	env, err := envelopeFromFlags(cmd, cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), string(env.Body))
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", signing.Header, env.Signature)
	return nil
}

// requestContext adds a deadline only when --timeout was given.
func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func envelopeFromFlags(cmd *cobra.Command, cfg *config.Config) (*domain.Envelope, error) {
	secret := stringFlag(cmd, "secret", cfg.SharedSecret)
	if secret == "" {
		return nil, errors.New("shared secret is required: set AGENT_SHARED_SECRET or --secret")
	}

	req, err := requestFromFlags(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return signing.Build(req, []byte(secret))
}

func requestFromFlags(cmd *cobra.Command, cfg *config.Config) (*domain.CommandRequest, error) {
	action, _ := cmd.Flags().GetString("action")
	if action == "" {
		return nil, errors.New("--action is required")
	}

	rawParams, _ := cmd.Flags().GetString("params")
	params, err := parseParams(rawParams)
	if err != nil {
		return nil, err
	}

	nonce, _ := cmd.Flags().GetString("nonce")
	if nonce == "" {
		nonce = uuid.NewString()
	}

	ts, _ := cmd.Flags().GetInt64("timestamp")
	if ts == 0 {
		ts = time.Now().Unix()
	}

	auto, _ := cmd.Flags().GetBool("auto-execute")

	return &domain.CommandRequest{
		ID:          stringFlag(cmd, "id", cfg.AgentID),
		Nonce:       nonce,
		Timestamp:   ts,
		Action:      action,
		Params:      params,
		AutoExecute: auto,
	}, nil
}

// parseParams decodes a JSON object keeping numbers exactly as written.
func parseParams(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var params map[string]interface{}
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("--params must be a JSON object: %w", err)
	}
	if dec.More() {
		return nil, errors.New("--params must be a single JSON object")
	}
	return params, nil
}

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"treesync/internal/auth"
)

type tokenOutput struct {
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	Hash  string `json:"hash" yaml:"hash"`
}

func newTokenCmd(output *outputOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Create API tokens and their config hashes",
	}
	cmd.AddCommand(newTokenHashCmd(output), newTokenGenerateCmd(output))
	return cmd
}

func newTokenHashCmd(output *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash [token]",
		Short: "Print the bcrypt hash of a token for api_token_hash (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			if len(args) == 1 {
				token = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token from stdin: %w", err)
				}
				token = strings.TrimRight(line, "\r\n")
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			if output.structured() {
				return writeStructured(cmd.OutOrStdout(), output, tokenOutput{Hash: hash})
			}
			return writePlain(cmd.OutOrStdout(), "%s\n", hash)
		},
	}
}

func newTokenGenerateCmd(output *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Generate a random token and its hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			hash, err := auth.HashToken(token)
			if err != nil {
				return err
			}
			if output.structured() {
				return writeStructured(cmd.OutOrStdout(), output, tokenOutput{Token: token, Hash: hash})
			}
			return writeLines(cmd.OutOrStdout(), []string{
				"token: " + token,
				"hash:  " + hash,
				"set the hash with: treesync config set api_token_hash '<hash>' --global",
				"export the token to clients as TREESYNC_API_TOKEN",
			})
		},
	}
}

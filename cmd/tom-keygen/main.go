// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tom-x-project/tom/identity"
)

var (
	seedFile     string
	outputFormat string
	force        bool
)

var rootCmd = &cobra.Command{
	Use:   "tom-keygen",
	Short: "ToM identity key generation CLI",
	Long: `tom-keygen creates and inspects the Ed25519 seed files that back a
node's identity.NodeId.`,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new node identity and write its seed file",
	Example: `  # Write a new seed file at the default location
  tom-keygen generate --seed-file .tom/identity.seed

  # Print the resulting node id as JSON instead of plain text
  tom-keygen generate --seed-file .tom/identity.seed --format json`,
	RunE: runGenerate,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the node id derived from an existing seed file",
	RunE:  runInspect,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(inspectCmd)

	generateCmd.Flags().StringVarP(&seedFile, "seed-file", "s", ".tom/identity.seed", "Path to write the generated seed")
	generateCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")
	generateCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing seed file")

	inspectCmd.Flags().StringVarP(&seedFile, "seed-file", "s", ".tom/identity.seed", "Path to an existing seed file")
	inspectCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type identityOutput struct {
	NodeId   string `json:"node_id"`
	SeedFile string `json:"seed_file"`
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if !force {
		if _, err := os.Stat(seedFile); err == nil {
			return fmt.Errorf("seed file %s already exists, pass --force to overwrite", seedFile)
		}
	}

	kp, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("failed to generate identity: %w", err)
	}

	if dir := filepath.Dir(seedFile); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create seed directory: %w", err)
		}
	}
	if err := os.WriteFile(seedFile, kp.Seed().Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write seed file: %w", err)
	}

	return printIdentity(kp.NodeId())
}

func runInspect(cmd *cobra.Command, args []string) error {
	seedBytes, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	seed, err := identity.SecretSeedFromBytes(seedBytes)
	if err != nil {
		return fmt.Errorf("invalid seed file: %w", err)
	}

	kp, err := identity.FromSeed(seed)
	if err != nil {
		return fmt.Errorf("failed to derive identity from seed: %w", err)
	}

	return printIdentity(kp.NodeId())
}

func printIdentity(id identity.NodeId) error {
	switch outputFormat {
	case "json":
		out := identityOutput{NodeId: id.String(), SeedFile: seedFile}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Println(string(data))
	default:
		fmt.Printf("node id: %s\nseed file: %s\n", id.String(), seedFile)
	}
	return nil
}

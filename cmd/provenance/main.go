// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// provenance is a small non-interactive tool for working with
// manifest stores:
//
//	provenance inspect <store-file>
//	provenance verify <store-file> --trust-policy <policy.yaml> [--asset <file>]
//
// inspect decodes a store and prints its structure; verify walks the
// full provenance graph against a trust policy and exits non-zero
// when the store is invalid.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provenance/lib/codec"
	"github.com/bureau-foundation/provenance/lib/cose"
	"github.com/bureau-foundation/provenance/lib/graph"
	"github.com/bureau-foundation/provenance/lib/hash"
	"github.com/bureau-foundation/provenance/lib/manifest"
	"github.com/bureau-foundation/provenance/lib/trust"
	"github.com/bureau-foundation/provenance/lib/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	var err error
	switch args[0] {
	case "inspect":
		err = runInspect(args[1:])
	case "verify":
		var valid bool
		valid, err = runVerify(args[1:])
		if err == nil && !valid {
			return 1
		}
	case "--help", "-h", "help":
		printUsage()
		return 0
	case "--version":
		fmt.Printf("provenance %s\n", version.Info())
		return 0
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[0])
		printUsage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}
	return 0
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `usage:
  provenance inspect <store-file> [--claim]
  provenance verify <store-file> --trust-policy <policy.yaml> [flags]

Run "provenance <command> --help" for command flags.
`)
}

func runInspect(args []string) error {
	var showClaim bool
	flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	flagSet.BoolVar(&showClaim, "claim", false, "print each claim as diagnostic CBOR")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: provenance inspect <store-file> [--claim]")
	}

	storeBytes, err := os.ReadFile(flagSet.Arg(0))
	if err != nil {
		return err
	}
	store, err := manifest.DecodeStore(storeBytes)
	if err != nil {
		return fmt.Errorf("decoding store: %w", err)
	}

	active := store.ActiveManifest()
	for _, m := range store.Manifests {
		marker := " "
		if m == active {
			marker = "*"
		}
		fmt.Printf("%s manifest %s\n", marker, m.Label())
		if m.Claim.Title != "" {
			fmt.Printf("    title:      %s\n", m.Claim.Title)
		}
		if m.Claim.Generator != "" {
			fmt.Printf("    generator:  %s\n", m.Claim.Generator)
		}
		fmt.Printf("    alg:        %s\n", m.Claim.Alg)
		if m.Claim.RemoteURL != "" {
			fmt.Printf("    remote url: %s\n", m.Claim.RemoteURL)
		}
		for _, assertion := range m.Assertions {
			fmt.Printf("    assertion   %s (%d bytes)\n", assertion.AddressLabel(), len(assertion.Data))
		}
		for _, ingredient := range m.Ingredients {
			provenance := "no embedded store"
			if ingredient.StoreBytes != nil {
				provenance = fmt.Sprintf("embedded store, %d bytes", len(ingredient.StoreBytes))
			}
			fmt.Printf("    ingredient  %s (%s, %s)\n", ingredient.Label, ingredient.Relationship, provenance)
		}
		for _, databox := range m.Databoxes {
			fmt.Printf("    databox     %s (%s, %d bytes)\n", databox.Label, databox.Format, len(databox.Data))
		}
		if unknown := len(store.UnknownBoxes()); unknown > 0 && m == active {
			fmt.Printf("    %d unrecognized store-level boxes preserved\n", unknown)
		}
		if showClaim {
			diagnostic, err := codec.Diagnose(m.ClaimBytes)
			if err != nil {
				return fmt.Errorf("diagnosing claim of %s: %w", m.Label(), err)
			}
			fmt.Printf("    claim: %s\n", diagnostic)
		}
	}
	return nil
}

func runVerify(args []string) (bool, error) {
	var policyPath, assetPath, ocspPath string
	var strict, jsonOutput, verbose bool
	flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	flagSet.StringVar(&policyPath, "trust-policy", "", "YAML trust policy with anchor certificates (required)")
	flagSet.StringVar(&assetPath, "asset", "", "asset file to hash against the claim's recorded hash")
	flagSet.StringVar(&ocspPath, "ocsp", "", "DER OCSP response for the signing certificate")
	flagSet.BoolVar(&strict, "strict", false, "escalate inconclusive checks to failures")
	flagSet.BoolVar(&jsonOutput, "json", false, "print the report as JSON")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	if err := flagSet.Parse(args); err != nil {
		return false, err
	}
	if flagSet.NArg() != 1 {
		return false, fmt.Errorf("usage: provenance verify <store-file> --trust-policy <policy.yaml> [flags]")
	}
	if policyPath == "" {
		return false, fmt.Errorf("--trust-policy is required")
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	policy, err := trust.LoadPolicy(policyPath)
	if err != nil {
		return false, err
	}

	storeBytes, err := os.ReadFile(flagSet.Arg(0))
	if err != nil {
		return false, err
	}
	store, err := manifest.DecodeStore(storeBytes)
	if err != nil {
		return false, fmt.Errorf("decoding store: %w", err)
	}
	active := store.ActiveManifest()
	if active == nil {
		return false, manifest.ErrEmptyStore
	}

	opts := cose.VerifyOptions{Strict: strict || policy.StrictRemoteResolution}
	if assetPath != "" {
		assetFile, err := os.Open(assetPath)
		if err != nil {
			return false, err
		}
		defer assetFile.Close()
		info, err := assetFile.Stat()
		if err != nil {
			return false, err
		}
		digest, err := hash.DigestRanges(active.Claim.Alg, assetFile, info.Size(), nil)
		if err != nil {
			return false, fmt.Errorf("hashing asset: %w", err)
		}
		opts.AssetDigest = digest
		opts.AssetDigestAlg = active.Claim.Alg
	}
	if ocspPath != "" {
		response, err := os.ReadFile(ocspPath)
		if err != nil {
			return false, err
		}
		opts.OCSPResponse = response
	}

	walker := &graph.Walker{
		Verifier: &cose.Verifier{Anchors: policy.Anchors, Logger: logger},
		MaxDepth: policy.MaxIngredientDepth,
		Logger:   logger,
	}
	report, err := walker.WalkStore(context.Background(), store, opts)
	if err != nil {
		return false, err
	}

	if jsonOutput {
		encoded, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Println(string(encoded))
	} else {
		printNode(report.Root, "")
		verdict := "VALID"
		if !report.Valid() {
			verdict = "INVALID"
		}
		fmt.Printf("%s (%d manifests verified)\n", verdict, report.ManifestCount)
	}
	return report.Valid(), nil
}

func printNode(node *graph.Node, indent string) {
	name := node.ManifestLabel
	if node.IngredientLabel != "" {
		name = fmt.Sprintf("%s (ingredient %s", name, node.IngredientLabel)
		if node.Required {
			name += ", required"
		}
		name += ")"
	}
	status := "ok"
	if !node.Valid() {
		status = "invalid"
	}
	if !node.HasProvenance {
		status = "no provenance"
	}
	fmt.Printf("%s%s: %s\n", indent, name, status)

	if node.Problem != "" {
		fmt.Printf("%s  problem: %s\n", indent, node.Problem)
	}
	if node.Outcome != nil {
		for _, step := range node.Outcome.Steps {
			if step.Status == cose.StatusPass {
				continue
			}
			fmt.Printf("%s  %s: %s", indent, step.Code, step.Status)
			if step.Reason != "" {
				fmt.Printf(" (%s)", step.Reason)
			}
			fmt.Println()
		}
	}
	for _, child := range node.Ingredients {
		printNode(child, indent+"  ")
	}
}

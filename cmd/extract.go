package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docextract/internal/model"
	"github.com/sells-group/docextract/internal/pipeline"
)

var (
	extractProfile     string
	extractAPIKey      string
	extractNoStructure bool
	extractOutput      string
)

var extractCmd = &cobra.Command{
	Use:   "extract <pdf>",
	Short: "Run the extraction pipeline on a local PDF and print the result",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func runExtract(cmd *cobra.Command, args []string) error {
	if extractOutput != "json" && extractOutput != "yaml" {
		return eris.Errorf("unknown output format %q", extractOutput)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return eris.Wrapf(err, "read %s", args[0])
	}

	env, err := initPipeline(cmd.Context(), "extract")
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.Pipeline.Process(cmd.Context(), model.Document{
		Filename: filepath.Base(args[0]),
		Data:     data,
	}, pipeline.Options{
		Profile:       extractProfile,
		APIKey:        extractAPIKey,
		SkipStructure: extractNoStructure,
		RequestID:     uuid.NewString(),
	})
	if err != nil {
		return err
	}

	if extractOutput == "yaml" {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close() //nolint:errcheck
		return enc.Encode(res)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func init() {
	extractCmd.Flags().StringVar(&extractProfile, "profile", "", "extraction profile (default from config)")
	extractCmd.Flags().StringVar(&extractAPIKey, "api-key", "", "model API key for this run")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "json", "output format: json or yaml")
	extractCmd.Flags().BoolVar(&extractNoStructure, "no-structure", false, "skip the language-model call")
	rootCmd.AddCommand(extractCmd)
}

// Command mbesgc runs the grid-check engine over either a QA-JSON document
// or a bare grid file, emitting the resulting QA-JSON document to stdout.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	_ "github.com/ausseabed/mbesgc-go/internal/checks"
	"github.com/ausseabed/mbesgc-go/internal/executor"
	"github.com/ausseabed/mbesgc-go/internal/gridcheck"
	"github.com/ausseabed/mbesgc-go/internal/inputresolver"
	"github.com/ausseabed/mbesgc-go/internal/model"
	"github.com/ausseabed/mbesgc-go/internal/qajson"
	"github.com/ausseabed/mbesgc-go/internal/qajsonio"
)

var (
	inputFile        string
	gridFile         string
	coverageFile     string
	spatialQAJSON    bool
	spatialExport    bool
	spatialExportDir string
)

func executorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.SpatialQAJSON = spatialQAJSON
	cfg.SpatialExport = spatialExport
	cfg.SpatialExportLocation = spatialExportDir
	return cfg
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCommand = &cobra.Command{
	Use:   "mbesgc",
	Short: "Run quality assurance checks over gridded bathymetric survey data",
	RunE:  run,
}

func init() {
	rootCommand.Flags().StringVarP(&inputFile, "input-file", "i", "", "path to a QA-JSON input document")
	rootCommand.Flags().StringVar(&gridFile, "grid-file", "", "path to a bare grid file, run against every registered check")
	rootCommand.Flags().StringVar(&coverageFile, "coverage-file", "", "optional coverage-area vector, only used with --grid-file")
	rootCommand.Flags().BoolVar(&spatialQAJSON, "spatial", false, "include WGS-84 failure polygons in the outputs")
	rootCommand.Flags().BoolVar(&spatialExport, "spatial-export", false, "write per-tile GeoTIFF/shapefile failure exports to disk")
	rootCommand.Flags().StringVar(&spatialExportDir, "spatial-export-dir", "", "directory spatial-export artifacts are written under")
}

func run(cmd *cobra.Command, args []string) error {
	switch {
	case inputFile != "":
		return runFromQAJSON(cmd, inputFile)
	case gridFile != "":
		return runFromGridFile(cmd, gridFile, coverageFile)
	default:
		return fmt.Errorf("mbesgc: one of --input-file or --grid-file is required")
	}
}

func runFromQAJSON(cmd *cobra.Command, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("mbesgc: read %s: %w", path, err)
	}

	var doc qajson.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("mbesgc: parse %s: %w", path, err)
	}

	ifds, err := inputresolver.InputsFromChecks(doc.Checks, filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("mbesgc: resolve inputs: %w", err)
	}

	exec := executor.New(executorConfig())
	if err := runExecutor(cmd, exec, ifds); err != nil {
		return err
	}
	qajsonio.ApplyResults(ifds, exec)

	return emit(cmd, &doc)
}

func runFromGridFile(cmd *cobra.Command, path, coveragePath string) error {
	ifd, err := inputresolver.ResolveGridFiles([]string{path})
	if err != nil {
		return fmt.Errorf("mbesgc: resolve %s: %w", path, err)
	}
	if ifd == nil {
		return fmt.Errorf("mbesgc: %s did not resolve to a recognised band layout", path)
	}
	ifd.CoverageVectorPath = coveragePath

	doc := &qajson.Document{}
	for _, id := range gridcheck.AllIDs() {
		ctor, ok := gridcheck.Lookup(id)
		if !ok {
			continue
		}
		probe := ctor(nil)

		qc := &qajson.Check{
			Info: qajson.Info{ID: id, Name: probe.Name(), Version: probe.Version()},
			Inputs: qajson.Inputs{
				Files: []qajson.FileRef{{Path: path, FileType: qajson.FileTypeSurveyDTMs}},
			},
		}
		doc.Checks = append(doc.Checks, qc)
		ifd.Checks = append(ifd.Checks, model.CheckRef{CheckID: id})
		ifd.QAJSONChecks = append(ifd.QAJSONChecks, qc)
	}

	exec := executor.New(executorConfig())
	if err := runExecutor(cmd, exec, []*model.IFD{ifd}); err != nil {
		return err
	}
	qajsonio.ApplyResults([]*model.IFD{ifd}, exec)

	return emit(cmd, doc)
}

func runExecutor(cmd *cobra.Command, exec *executor.Executor, ifds []*model.IFD) error {
	progress := func(fraction float64) {
		fmt.Fprintf(cmd.ErrOrStderr(), "progress = %.1f%%\n", fraction*100)
	}
	return exec.Run(ifds, progress, nil, nil)
}

func emit(cmd *cobra.Command, doc *qajson.Document) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/carbocation/scrnaseq"
	"github.com/carbocation/scrnaseq/bqexport"
	"github.com/carbocation/scrnaseq/cellmeta"
	"github.com/carbocation/scrnaseq/cluster"
	"github.com/carbocation/scrnaseq/markers"
	"github.com/carbocation/scrnaseq/reduce"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ConfigPath string `json:"-" yaml:"-"`

	// genes x cells, delimited text, optionally compressed or on gs://
	MatrixPath string `json:"matrix" yaml:"matrix"`

	// Ground-truth labels come from a file with cell and label columns, or
	// from a BigQuery query returning the same columns
	LabelsPath  string `json:"labels" yaml:"labels"`
	LabelsQuery string `json:"labels_query" yaml:"labels_query"`

	// Google Cloud project used for BigQuery
	Project string `json:"project" yaml:"project"`

	OutputDir string `json:"output" yaml:"output"`

	IDSeparator  string `json:"id_separator" yaml:"id_separator"`
	BatchField   int    `json:"batch_field" yaml:"batch_field"`
	StageField   int    `json:"stage_field" yaml:"stage_field"`
	StagePattern string `json:"stage_pattern" yaml:"stage_pattern"`

	// Reconciles label spellings, e.g. {"Neural crest": "Neural Crest"}
	LabelRemap map[string]string `json:"label_remap" yaml:"label_remap"`

	// Set for raw counts. InputIsLog says whether the matrix (after any
	// normalization) is on the log1p scale.
	LogNormalize bool    `json:"log_normalize" yaml:"log_normalize"`
	ScaleFactor  float64 `json:"scale_factor" yaml:"scale_factor"`
	InputIsLog   bool    `json:"input_is_log" yaml:"input_is_log"`

	VariableGenes int `json:"variable_genes" yaml:"variable_genes"`
	PCAComponents int `json:"pca_components" yaml:"pca_components"`

	// 0 picks k from KMin..KMax
	K         int       `json:"k" yaml:"k"`
	KMin      int       `json:"k_min" yaml:"k_min"`
	KMax      int       `json:"k_max" yaml:"k_max"`
	Seed      int64     `json:"seed" yaml:"seed"`
	Neighbors []int     `json:"neighbors" yaml:"neighbors"`
	Scales    []float64 `json:"scales" yaml:"scales"`

	MarkerMinPct    float64 `json:"marker_min_pct" yaml:"marker_min_pct"`
	MarkerMinLog2FC float64 `json:"marker_min_log2fc" yaml:"marker_min_log2fc"`
	MarkerTopN      int     `json:"marker_top_n" yaml:"marker_top_n"`

	// Genes drawn as feature plots. If empty, the top MarkersPerCluster
	// markers of each cluster are drawn.
	PlotGenes         []string `json:"plot_genes" yaml:"plot_genes"`
	MarkersPerCluster int      `json:"markers_per_cluster" yaml:"markers_per_cluster"`
	MontageColumns    int      `json:"montage_columns" yaml:"montage_columns"`

	Perplexity     float64 `json:"perplexity" yaml:"perplexity"`
	TSNEIterations int     `json:"tsne_iterations" yaml:"tsne_iterations"`

	Trajectory bool `json:"trajectory" yaml:"trajectory"`

	// -1 picks the cluster richest in the earliest stage
	TrajectoryRoot int `json:"trajectory_root" yaml:"trajectory_root"`

	// Cluster number to display name, applied over the majority relabel
	Relabel map[string]string `json:"relabel" yaml:"relabel"`

	// project.dataset.table or dataset.table
	ExportTable string `json:"export_table" yaml:"export_table"`
}

func DefaultConfig() Config {
	clu := cluster.DefaultConfig(0)
	mk := markers.DefaultConfig()
	ts := reduce.DefaultTSNEConfig()
	layout := cellmeta.DefaultIDLayout()

	return Config{
		IDSeparator:       layout.Separator,
		BatchField:        layout.BatchField,
		StageField:        layout.StageField,
		ScaleFactor:       10000,
		InputIsLog:        true,
		VariableGenes:     2000,
		PCAComponents:     20,
		KMin:              2,
		KMax:              12,
		Seed:              clu.Seed,
		Neighbors:         clu.Neighbors,
		Scales:            clu.Scales,
		MarkerMinPct:      mk.MinPct,
		MarkerMinLog2FC:   mk.MinLog2FC,
		MarkerTopN:        mk.TopN,
		MarkersPerCluster: 1,
		MontageColumns:    4,
		Perplexity:        ts.Perplexity,
		TSNEIterations:    ts.Iterations,
		TrajectoryRoot:    -1,
	}
}

// ParseConfigFromPath reads a YAML config if path ends in .yaml or .yml, and
// a JSON config otherwise.
func ParseConfigFromPath(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLConfigFromPath(path)
	}

	return ParseJSONConfigFromPath(path)
}

// ParseYAMLConfigFromPath reads a YAML config with the same keys as the JSON
// form. Unknown keys are an error.
func ParseYAMLConfigFromPath(path string) (Config, error) {
	out := DefaultConfig()
	out.ConfigPath = path

	f, err := os.Open(scrnaseq.ExpandHome(path))
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return out, pfx.Err(err)
	}

	out.ExpandPaths()

	return out, nil
}

// ParseJSONConfigFromPath reads a JSON config. Fields absent from the file
// keep their DefaultConfig values.
func ParseJSONConfigFromPath(path string) (Config, error) {
	out := DefaultConfig()
	out.ConfigPath = path

	f, err := os.Open(scrnaseq.ExpandHome(path))
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	err = json.NewDecoder(f).Decode(&out)
	if err != nil {
		if e, ok := err.(*json.SyntaxError); ok {
			log.Printf("syntax error at byte offset %d", e.Offset)
		}

		return out, pfx.Err(err)
	}

	out.ExpandPaths()

	return out, nil
}

// ExpandPaths interprets ~ in local paths.
func (c *Config) ExpandPaths() {
	c.ConfigPath = scrnaseq.ExpandHome(c.ConfigPath)
	c.MatrixPath = scrnaseq.ExpandHome(c.MatrixPath)
	c.LabelsPath = scrnaseq.ExpandHome(c.LabelsPath)
	c.OutputDir = scrnaseq.ExpandHome(c.OutputDir)
}

func (c Config) Validate() error {
	if c.MatrixPath == "" {
		return fmt.Errorf("A matrix path is required")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("An output directory is required")
	}
	if c.LabelsPath != "" && c.LabelsQuery != "" {
		return fmt.Errorf("Labels may come from a file or a query, but not both")
	}
	if c.LabelsQuery != "" && c.Project == "" {
		return fmt.Errorf("A Google Cloud project is required to query labels from BigQuery")
	}
	if c.K < 0 {
		return fmt.Errorf("k must not be negative, got %d", c.K)
	}
	if c.K == 0 && (c.KMin < 2 || c.KMax < c.KMin) {
		return fmt.Errorf("With k unset, need 2 <= k_min <= k_max; got %d and %d", c.KMin, c.KMax)
	}
	if c.PCAComponents < 2 {
		return fmt.Errorf("At least 2 principal components are required, got %d", c.PCAComponents)
	}
	if c.LogNormalize && c.ScaleFactor <= 0 {
		return fmt.Errorf("Scale factor must be positive, got %f", c.ScaleFactor)
	}
	if c.Perplexity <= 0 || c.TSNEIterations < 1 {
		return fmt.Errorf("t-SNE needs a positive perplexity and iteration count")
	}
	if c.MontageColumns < 1 {
		return fmt.Errorf("Montage columns must be positive, got %d", c.MontageColumns)
	}
	if _, err := c.IDLayout(); err != nil {
		return err
	}
	if _, err := c.RelabelOverrides(); err != nil {
		return err
	}
	if c.ExportTable != "" {
		project, _, _, err := bqexport.ParseTable(c.ExportTable)
		if err != nil {
			return err
		}
		if project == "" && c.Project == "" {
			return fmt.Errorf("A Google Cloud project is required to export to %s", c.ExportTable)
		}
	}

	return nil
}

func (c Config) IDLayout() (cellmeta.IDLayout, error) {
	out := cellmeta.IDLayout{
		Separator:  c.IDSeparator,
		BatchField: c.BatchField,
		StageField: c.StageField,
	}

	if c.StagePattern != "" {
		re, err := regexp.Compile(c.StagePattern)
		if err != nil {
			return out, fmt.Errorf("stage_pattern: %w", err)
		}
		out.StagePattern = re
	}

	return out, nil
}

// RelabelOverrides converts the relabel keys to cluster numbers.
func (c Config) RelabelOverrides() (map[int]string, error) {
	out := make(map[int]string, len(c.Relabel))
	for k, v := range c.Relabel {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("relabel: cluster %q is not an integer", k)
		}
		out[id] = v
	}

	return out, nil
}

func (c Config) ClusterConfig(k int) cluster.Config {
	out := cluster.DefaultConfig(k)
	out.Seed = c.Seed
	if len(c.Neighbors) > 0 {
		out.Neighbors = c.Neighbors
	}
	if len(c.Scales) > 0 {
		out.Scales = c.Scales
	}

	return out
}

func (c Config) MarkerConfig() markers.Config {
	out := markers.DefaultConfig()
	out.MinPct = c.MarkerMinPct
	out.MinLog2FC = c.MarkerMinLog2FC
	out.TopN = c.MarkerTopN
	out.LogData = c.LogNormalize || c.InputIsLog

	return out
}

func (c Config) TSNEConfig() reduce.TSNEConfig {
	out := reduce.DefaultTSNEConfig()
	out.Perplexity = c.Perplexity
	out.Iterations = c.TSNEIterations
	out.Seed = c.Seed
	out.LogEvery = 100
	if out.ExaggerationIters > out.Iterations/4 {
		out.ExaggerationIters = out.Iterations / 4
	}

	return out
}

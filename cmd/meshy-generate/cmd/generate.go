package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go-meshy-generate/internal/batch"
	"go-meshy-generate/internal/models"
	"go-meshy-generate/internal/pipeline"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	genPrompt          string
	genOutput          string
	genName            string
	genArtStyle        string
	genAIModel         string
	genTopology        string
	genSymmetry        string
	genTexturePrompt   string
	genBatchFile       string
	genSeed            int
	genTargetPolycount int
	genRemesh          bool
	genPBR             bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one or more 3D models from text prompts",
	Long: `Runs a preview job for each prompt, refines it into a textured model and
saves <name>.<format>, <name>.png and <name>.mp4 into the output directory.

A single model is described with flags. Up to 8 models can be generated
concurrently from a TOML, YAML or JSON batch file passed with --batch.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	f := generateCmd.Flags()
	f.StringVar(&genPrompt, "prompt", "", "Description of the object to generate (max 600 characters)")
	f.StringVarP(&genOutput, "output", "o", "", "Absolute directory to save the model files into")
	f.StringVarP(&genName, "name", "n", "", "Base file name without extension (letters, digits, _ and -)")
	f.StringVar(&genArtStyle, "art-style", "", "Art style: realistic or sculpture (default realistic)")
	f.StringVar(&genAIModel, "ai-model", "", "Model version: meshy-4 or latest (default meshy-4)")
	f.StringVar(&genTopology, "topology", "", "Mesh topology: quad or triangle (default triangle)")
	f.StringVar(&genSymmetry, "symmetry", "", "Symmetry mode: off, auto or on (default auto)")
	f.StringVar(&genTexturePrompt, "texture-prompt", "", "Extra guidance for the refine texture (max 600 characters)")
	f.IntVar(&genSeed, "seed", 0, "Seed for reproducible previews")
	f.IntVar(&genTargetPolycount, "target-polycount", models.DefaultTargetPolycount, "Target polygon count (100-300000)")
	f.BoolVar(&genRemesh, "remesh", models.DefaultShouldRemesh, "Remesh the preview")
	f.BoolVar(&genPBR, "pbr", models.DefaultEnablePBR, "Generate PBR maps during refine")
	f.StringVar(&genBatchFile, "batch", "", "Batch file (.toml, .yaml, .yml or .json) describing several generations")
}

// paramsFromFlags builds the parameters of a single generation. Unset flags stay
// unset so configured and service defaults apply.
func paramsFromFlags(cmd *cobra.Command) models.GenerationParams {
	changed := cmd.Flags().Changed
	p := models.GenerationParams{
		Prompt:        genPrompt,
		ArtStyle:      genArtStyle,
		AIModel:       genAIModel,
		Topology:      genTopology,
		SymmetryMode:  genSymmetry,
		TexturePrompt: genTexturePrompt,
	}
	if changed("seed") {
		p.Seed = models.IntPtr(genSeed)
	}
	if changed("target-polycount") {
		p.TargetPolycount = models.IntPtr(genTargetPolycount)
	}
	if changed("remesh") {
		p.ShouldRemesh = models.BoolPtr(genRemesh)
	}
	if changed("pbr") {
		p.EnablePBR = models.BoolPtr(genPBR)
	}
	return p
}

// generationBatch returns the batch described by --batch or by the single-run flags.
func generationBatch(cmd *cobra.Command) (batch.File, error) {
	if genBatchFile != "" {
		if cmd.Flags().Changed("prompt") {
			return batch.File{}, errors.New("--prompt and --batch cannot be combined")
		}
		return batch.Load(genBatchFile)
	}
	if genPrompt == "" || genOutput == "" || genName == "" {
		return batch.File{}, errors.New("--prompt, --output and --name are required unless --batch is given")
	}
	return batch.File{Tasks: []batch.Task{{
		GenerationParams: paramsFromFlags(cmd),
		OutputPath:       genOutput,
		FileName:         genName,
	}}}, nil
}

// liveWriter redraws the consolidated progress block on every write.
type liveWriter struct {
	w *uilive.Writer
}

func (l liveWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, l.w.Flush()
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := globalConfig

	file, err := generationBatch(cmd)
	if err != nil {
		return err
	}
	reqs, err := file.WithConfig(cfg.Generate).RunRequests()
	if err != nil {
		return err
	}
	if err := requireAPIKey(cfg); err != nil {
		return err
	}

	hist, err := openHistory(cfg)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	defer hist.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := uilive.New()
	writer.Out = cmd.OutOrStdout()

	coordinator, _ := newCoordinator(cfg, globalHttpTransport, afero.NewOsFs())
	coordinator.Output = liveWriter{w: writer}
	coordinator.Recorder = hist

	return executeBatch(ctx, coordinator, reqs, cmd.OutOrStdout())
}

// executeBatch runs reqs and prints the success report of every finished run.
func executeBatch(ctx context.Context, coordinator *pipeline.Coordinator, reqs []pipeline.RunRequest, out io.Writer) error {
	log.Infof("Generating %d model(s)", len(reqs))
	summaries, err := coordinator.Run(ctx, reqs, pipeline.ProgressSinkFunc(func(percent float64, message string) {
		log.Debug(message)
	}))
	if len(summaries) > 0 {
		fmt.Fprint(out, pipeline.SuccessMessage(summaries))
	}
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/inference"
	"github.com/chaos-io/cutout/inference/onnx"
	"github.com/chaos-io/cutout/matte"
	"github.com/chaos-io/cutout/matte/rembg"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, userMessage(err))
		os.Exit(1)
	}
}

// userMessage 流水线错误只展示面向用户的提示，细节已记录在日志里
func userMessage(err error) string {
	var rerr *rembg.Error
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	return "Error: " + err.Error()
}

type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "cutout",
		Short:         "Remove image backgrounds with U²-Net",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				if cmd.Flags().Changed("config") {
					return err
				}
				cfg = config.Default()
			}
			a.cfg = cfg

			if err := util.InitLogger(cfg.Log.Mode); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			util.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "config file")

	root.AddCommand(a.removeCmd(), a.modelCmd(), versionCmd())
	return root
}

func (a *app) removeCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "remove <input>",
		Short: "Remove the background of an image and write a transparent PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = filepath.Join("output", ksuid.New().String()+"_nobg.png")
			}
			return a.remove(cmd.Context(), cmd.OutOrStdout(), args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output PNG path (default output/<id>_nobg.png)")
	return cmd
}

func (a *app) remove(ctx context.Context, w io.Writer, input, output string) error {
	defer util.Trace("remove")()

	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	if err := util.ValidateImage(data, a.cfg.Upload.MaxSize, a.cfg.Upload.AllowedTypes); err != nil {
		return err
	}

	img, err := util.OpenImage(input)
	if err != nil {
		return fmt.Errorf("decode input: %w", err)
	}

	model, pipeline, err := a.build()
	if err != nil {
		return err
	}
	defer func() {
		_ = model.Close()
	}()

	png, err := pipeline.RemoveBackground(ctx, img, func(percent int) {
		util.Logger.Info("progress", zap.Int("percent", percent))
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return err
	}
	if err := util.WriteFile(output, png); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	util.Logger.Info("saved", zap.String("input", input), zap.String("output", output), zap.Int("bytes", len(png)))
	fmt.Fprintln(w, output)
	return nil
}

func (a *app) modelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Load the model and print its inputs and outputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model, _, err := a.build()
			if err != nil {
				return err
			}
			defer func() {
				_ = model.Close()
			}()

			sess, err := model.Session(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\ninputs:  %v\noutputs: %v\n", a.cfg.Model.Backend, sess.InputNames(), sess.OutputNames())
			return nil
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cutout %s (commit %s, built %s)\n", Version, GitCommit, BuildTime)
		},
	}
}

// build 按配置组装模型句柄和流水线，模型在第一次使用时才加载
func (a *app) build() (*inference.Model, *rembg.Pipeline, error) {
	cfg := a.cfg

	backend, err := onnx.ParseBackend(cfg.Model.Backend)
	if err != nil {
		return nil, nil, err
	}
	resampler, err := matte.ParseResampler(cfg.Pipeline.Resampler)
	if err != nil {
		return nil, nil, err
	}

	fetcher := &inference.Fetcher{
		Name:     cfg.Model.Name,
		Path:     cfg.Model.Path,
		URL:      cfg.Model.URL,
		CacheDir: cfg.Model.CacheDir,
		Client:   nhttp.NewHTTPClient(nhttp.WithTimeout(cfg.Model.LoadTimeout)),
		Log:      util.Logger,
	}
	loader := onnx.NewLoader(fetcher, onnx.Options{
		Backend:     backend,
		Threads:     cfg.Model.Threads,
		LibraryPath: cfg.Model.LibraryPath,
	})

	model := inference.NewModel(loader,
		inference.WithLogger(util.Logger),
		inference.WithLoadTimeout(cfg.Model.LoadTimeout))

	pipeline := rembg.New(model,
		rembg.WithLogger(util.Logger),
		rembg.WithResampler(resampler),
		rembg.WithWorkers(cfg.Pipeline.Workers),
		rembg.WithInferenceTimeout(cfg.Pipeline.InferenceTimeout))

	return model, pipeline, nil
}

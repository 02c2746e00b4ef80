// Command goanomaly trains and runs autoencoder anomaly detection over
// CSV files or packet captures.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/goanomaly/pkg/detectors/autoencoder"
	gio "github.com/hed1ad/goanomaly/pkg/io"
	"github.com/hed1ad/goanomaly/pkg/io/csv"
	"github.com/hed1ad/goanomaly/pkg/io/pcap"
)

var logger = logrus.New()

type flags struct {
	csvPath   string
	pcapPath  string
	iface     string
	filter    string
	noHeader  bool
	columns   []int
	modelPath string

	hidden        []int
	activation    string
	epochs        int
	batchSize     int
	learningRate  float64
	dropoutRate   float64
	weightDecay   float64
	contamination float64
	noBatchNorm   bool
	noPreprocess  bool
	seed          int64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:   "goanomaly",
		Short: "Autoencoder-based anomaly detection for tabular and network data",
	}

	root.PersistentFlags().StringVar(&f.csvPath, "csv", "", "CSV input file")
	root.PersistentFlags().StringVar(&f.pcapPath, "pcap", "", "PCAP input file")
	root.PersistentFlags().StringVar(&f.iface, "iface", "", "live capture interface")
	root.PersistentFlags().StringVar(&f.filter, "filter", "", "BPF filter for packet input")
	root.PersistentFlags().BoolVar(&f.noHeader, "no-header", false, "CSV input has no header row")
	root.PersistentFlags().IntSliceVar(&f.columns, "columns", nil, "CSV feature columns (default all)")

	root.AddCommand(newTrainCmd(f), newDetectCmd(f))
	return root
}

func newTrainCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an autoencoder on normal data and save the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(f)
			if err != nil {
				return err
			}

			det := newDetector(f)
			if err := det.Fit(data); err != nil {
				return fmt.Errorf("training failed: %w", err)
			}

			blob, err := det.Save()
			if err != nil {
				return err
			}
			if err := os.WriteFile(f.modelPath, blob, 0o644); err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"samples":   len(data),
				"threshold": det.Threshold(),
				"best_loss": det.BestLoss(),
				"model":     f.modelPath,
			}).Info("Model trained and saved")
			return nil
		},
	}

	cmd.Flags().StringVar(&f.modelPath, "model", "model.gob", "output model file")
	cmd.Flags().IntSliceVar(&f.hidden, "hidden", []int{128, 64}, "hidden layer widths")
	cmd.Flags().StringVar(&f.activation, "activation", "relu", "hidden activation (identity, relu, sigmoid, tanh, leaky_relu)")
	cmd.Flags().IntVar(&f.epochs, "epochs", 100, "training epochs")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 32, "mini-batch size")
	cmd.Flags().Float64Var(&f.learningRate, "learning-rate", 1e-3, "Adam learning rate")
	cmd.Flags().Float64Var(&f.dropoutRate, "dropout", 0.2, "dropout rate")
	cmd.Flags().Float64Var(&f.weightDecay, "weight-decay", 1e-5, "L2 weight decay")
	cmd.Flags().Float64Var(&f.contamination, "contamination", 0.1, "expected outlier fraction")
	cmd.Flags().BoolVar(&f.noBatchNorm, "no-batch-norm", false, "disable batch normalization")
	cmd.Flags().BoolVar(&f.noPreprocess, "no-preprocessing", false, "disable input standardization")
	cmd.Flags().Int64Var(&f.seed, "seed", 42, "random seed")
	return cmd
}

func newDetectCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Score samples against a trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(f.modelPath)
			if err != nil {
				return err
			}

			det := autoencoder.New(autoencoder.WithLogger(logger))
			if err := det.Load(blob); err != nil {
				return fmt.Errorf("loading model failed: %w", err)
			}

			data, err := readInput(f)
			if err != nil {
				return err
			}

			scores, err := det.Predict(data)
			if err != nil {
				return err
			}

			threshold := det.Threshold()
			anomalies := 0
			now := time.Now().Unix()
			for i, score := range scores {
				if score <= threshold {
					continue
				}
				anomalies++
				result := gio.Result{
					Index:     i,
					Timestamp: now,
					Score:     score,
					IsAnomaly: true,
					Features:  data[i],
				}
				fmt.Printf("sample %4d: score=%.4f [ANOMALY] features=%v\n",
					result.Index, result.Score, result.Features)
			}

			logger.WithFields(logrus.Fields{
				"samples":   len(scores),
				"anomalies": anomalies,
				"threshold": threshold,
			}).Info("Detection complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&f.modelPath, "model", "model.gob", "trained model file")
	return cmd
}

func newDetector(f *flags) *autoencoder.Detector {
	return autoencoder.New(
		autoencoder.WithHiddenNeurons(f.hidden...),
		autoencoder.WithActivation(autoencoder.Activation(f.activation)),
		autoencoder.WithBatchNorm(!f.noBatchNorm),
		autoencoder.WithLearningRate(f.learningRate),
		autoencoder.WithEpochs(f.epochs),
		autoencoder.WithBatchSize(f.batchSize),
		autoencoder.WithDropoutRate(f.dropoutRate),
		autoencoder.WithWeightDecay(f.weightDecay),
		autoencoder.WithPreprocessing(!f.noPreprocess),
		autoencoder.WithContamination(f.contamination),
		autoencoder.WithSeed(f.seed),
		autoencoder.WithLogger(logger),
	)
}

// readInput resolves the configured data source to a feature matrix.
func readInput(f *flags) ([][]float64, error) {
	reader, err := newReader(f)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.Read()
}

func newReader(f *flags) (gio.Reader, error) {
	switch {
	case f.csvPath != "":
		var opts []csv.Option
		if f.noHeader {
			opts = append(opts, csv.WithHeader(false))
		}
		if len(f.columns) > 0 {
			opts = append(opts, csv.WithColumns(f.columns...))
		}
		return csv.NewReader(f.csvPath, opts...)
	case f.pcapPath != "":
		var opts []pcap.Option
		if f.filter != "" {
			opts = append(opts, pcap.WithFilter(f.filter))
		}
		return pcap.NewFileReader(f.pcapPath, opts...)
	case f.iface != "":
		var opts []pcap.Option
		if f.filter != "" {
			opts = append(opts, pcap.WithFilter(f.filter))
		}
		return pcap.NewLiveReader(f.iface, 65535, true, pcap.DefaultTimeout, opts...)
	default:
		return nil, fmt.Errorf("no input source: use --csv, --pcap, or --iface")
	}
}

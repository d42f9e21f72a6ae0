// Package main provides the P3 command line interface.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JordanHanotiaux/P3/compute"
	"github.com/JordanHanotiaux/P3/internal/config"
	"github.com/JordanHanotiaux/P3/matrix"
	"github.com/JordanHanotiaux/P3/nn"
	"github.com/JordanHanotiaux/P3/train"
)

const version = "v0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "p3",
		Short:         "P3 trains feed-forward networks on WebGPU devices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVersionCmd(), newDevicesCmd(), newKernelsCmd(), newTrainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "p3: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("P3 %s\n", version)
		},
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List WebGPU adapters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := compute.NewContext()
			if err != nil {
				return err
			}
			defer ctx.Release()

			adapters := ctx.ListAdapters()
			if len(adapters) == 0 {
				return compute.ErrNoDevice
			}
			preferred := preferredAdapter(adapters)
			for i, a := range adapters {
				mark := " "
				if i == preferred {
					mark = "*"
				}
				fmt.Printf("%s %d: %s (%s)\n", mark, i, a.Label, a.Type)
			}
			return nil
		},
	}
}

func newKernelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kernels",
		Short: "List the built-in kernel set",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range compute.NewRegistry(compute.Kernels()).Names() {
				fmt.Println(name)
			}
		},
	}
}

func newTrainCmd() *cobra.Command {
	var (
		configPath string
		forceCPU   bool
		savePath   string
		seed       int64
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a network from an experiment file",
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := config.Load(configPath)
			if err != nil {
				return err
			}

			eng, cleanup, err := selectEngine(forceCPU)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := eng.Initialize(); err != nil {
				return fmt.Errorf("kernel build failed: %w", err)
			}
			fmt.Printf("engine: %s\n", eng.Name())

			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			net, err := exp.BuildNetwork(eng, rand.New(rand.NewSource(seed)))
			if err != nil {
				return err
			}
			defer net.Release()

			loss, err := exp.BuildLoss()
			if err != nil {
				return err
			}
			dataset, err := exp.BuildDataset()
			if err != nil {
				return err
			}

			var opts []train.Option
			if !quiet {
				opts = append(opts, train.WithReporter(func(epoch int, loss float32) {
					fmt.Printf("epoch %d loss %.6f\n", epoch, loss)
				}))
			}

			losses, err := train.NewTrainer(loss, opts...).Run(net, dataset, exp.TrainerConfig())
			if err != nil {
				return err
			}
			fmt.Printf("final loss %.6f after %d epochs\n", losses[len(losses)-1], len(losses))

			if err := printPredictions(eng, net, dataset); err != nil {
				return err
			}

			if savePath != "" {
				if err := nn.SaveNetwork(savePath, net); err != nil {
					return err
				}
				fmt.Printf("saved network to %s\n", savePath)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "experiment file (required)")
	cmd.Flags().BoolVar(&forceCPU, "cpu", false, "use the host engine even if a GPU is available")
	cmd.Flags().StringVar(&savePath, "save", "", "write the trained network to this path")
	cmd.Flags().Int64Var(&seed, "seed", 0, "weight initialization seed (0 picks one)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print the final loss")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// preferredAdapter mirrors Acquire's preference order over the listed
// adapters: discrete GPU, then integrated GPU, then anything else.
func preferredAdapter(adapters []compute.AdapterInfo) int {
	for _, kind := range []string{"discrete-gpu", "integrated-gpu"} {
		for i, a := range adapters {
			if a.Type == kind {
				return i
			}
		}
	}
	return 0
}

// printPredictions runs one inference pass over the training inputs and
// prints each prediction next to its target.
func printPredictions(eng compute.Engine, net *nn.Network, ds train.Dataset) error {
	input, err := matrix.FromHost(eng, ds.Samples, ds.In, ds.Inputs)
	if err != nil {
		return err
	}
	defer input.Release()

	pred, err := net.Predict(input)
	if err != nil {
		return err
	}
	defer pred.Release()

	values, err := pred.ToHost()
	if err != nil {
		return err
	}
	for i := 0; i < ds.Samples; i++ {
		fmt.Printf("sample %d: input %v predicted %v target %v\n", i,
			ds.Inputs[i*ds.In:(i+1)*ds.In],
			values[i*ds.Out:(i+1)*ds.Out],
			ds.Targets[i*ds.Out:(i+1)*ds.Out])
	}
	return nil
}

// selectEngine prefers a WebGPU device and falls back to the host engine
// when no runtime or adapter is available.
func selectEngine(forceCPU bool) (compute.Engine, func(), error) {
	if forceCPU {
		eng := compute.NewCPU()
		return eng, eng.Release, nil
	}

	ctx, err := compute.NewContext()
	if err != nil {
		fmt.Fprintln(os.Stderr, "p3: no WebGPU runtime, falling back to cpu")
		eng := compute.NewCPU()
		return eng, eng.Release, nil
	}
	dev, err := ctx.Acquire()
	if err != nil {
		ctx.Release()
		fmt.Fprintln(os.Stderr, "p3: no WebGPU adapter, falling back to cpu")
		eng := compute.NewCPU()
		return eng, eng.Release, nil
	}

	eng := compute.NewGPU(dev)
	cleanup := func() {
		eng.Release()
		dev.Release()
		ctx.Release()
	}
	return eng, cleanup, nil
}

// Command classify labels image files with one of the bundled models.
//
//	classify --model mobilenetv3-small --device auto cat.jpg dog.png
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/Brownie44l1/imageclf/internal/classifier"
	"github.com/Brownie44l1/imageclf/internal/config"
	"github.com/Brownie44l1/imageclf/internal/logging"
	"github.com/Brownie44l1/imageclf/internal/model"
)

var (
	modelFlag = cli.StringFlag{
		Name:   "model",
		Usage:  "bundled model: mobilenetv2, mobilenetv3-small or resnet50",
		Value:  model.MobileNetV2.String(),
		EnvVar: config.EnvModel,
	}
	deviceFlag = cli.StringFlag{
		Name:   "device",
		Usage:  "device class: auto, default, android, ios, macos or windows",
		Value:  "auto",
		EnvVar: config.EnvDevice,
	}
	modelDirFlag = cli.StringFlag{
		Name:   "models",
		Usage:  "directory holding the model files",
		Value:  "models",
		EnvVar: config.EnvModelDir,
	}
	libraryFlag = cli.StringFlag{
		Name:   "lib",
		Usage:  "path to the onnxruntime shared library",
		EnvVar: config.EnvLibraryPath,
	}
	topFlag = cli.IntFlag{
		Name:  "top",
		Usage: "rows to print per image (0 prints all)",
		Value: 5,
	}
	verbosityFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "log level: debug, info, warn or error (logs go to stderr)",
		Value: "warn",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "classify"
	app.Usage = "classify image files"
	app.ArgsUsage = "<image> [<image>...]"
	app.Flags = []cli.Flag{modelFlag, deviceFlag, modelDirFlag, libraryFlag, topFlag, verbosityFlag}
	app.Action = classify

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func classify(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("no images given", 2)
	}

	weight, err := model.ParseModelWeight(c.String(modelFlag.Name))
	if err != nil {
		return err
	}
	device, err := model.ParseDeviceClass(c.String(deviceFlag.Name))
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: c.String(verbosityFlag.Name)})
	if err != nil {
		return err
	}

	ctx := context.Background()
	svc, err := classifier.New(ctx,
		classifier.WithModel(weight),
		classifier.WithDevice(device),
		classifier.WithModelDir(c.String(modelDirFlag.Name)),
		classifier.WithLibraryPath(c.String(libraryFlag.Name)),
		classifier.WithLogger(logger))
	if err != nil {
		return err
	}
	defer svc.Close()

	for _, path := range c.Args() {
		result, err := svc.ClassifyFile(ctx, path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		render(os.Stdout, path, result, c.Int(topFlag.Name))
	}
	return nil
}

func render(w io.Writer, path string, result model.ResultMap, top int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Category", "Confidence"})
	table.SetCaption(true, path)

	for i, p := range result.Sorted() {
		if top > 0 && i >= top {
			break
		}
		table.Append([]string{
			strconv.Itoa(i + 1),
			p.Class,
			strconv.FormatFloat(float64(p.Confidence), 'f', 4, 32),
		})
	}
	table.Render()
}

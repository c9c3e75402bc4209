package config

import (
	"time"

	"github.com/akamensky/argparse"

	"github.com/ayusman/fewshot/internal/backbone"
	"github.com/ayusman/fewshot/internal/classify"
)

// Parse builds a Config from command line arguments. args[0] is the program
// name. The returned usage text is set whenever err is.
func Parse(args []string) (Config, string, error) {
	def := Default()

	parser := argparse.NewParser("fewshot", "Teach a camera new classes from a few shots")

	classes := parser.Int("", "classes", &argparse.Options{Help: "Maximum number of classes", Default: def.Session.MaxClasses})
	initFrames := parser.Int("", "init-frames", &argparse.Options{Help: "Frames averaged into the background", Default: def.Session.InitFrames})
	shots := parser.Int("", "shots", &argparse.Options{Help: "Shots recorded per class selection", Default: def.Session.ShotsPerClass})
	alpha := parser.Float("", "alpha", &argparse.Options{Help: "Weight of the newest frame in the smoothed probabilities", Default: def.Session.Alpha})

	classifier := parser.Selector("", "classifier", []string{string(classify.StrategyNCM), string(classify.StrategyKNN)},
		&argparse.Options{Help: "Classification head", Default: string(def.Session.Classifier.Strategy)})
	neighbors := parser.Int("", "neighbors", &argparse.Options{Help: "K for the knn classifier", Default: def.Session.Classifier.Neighbors})
	metric := parser.Selector("", "metric", []string{string(classify.MetricEuclidean), string(classify.MetricCosine)},
		&argparse.Options{Help: "Distance between feature vectors", Default: string(def.Session.Classifier.Metric)})
	temperature := parser.Float("", "temperature", &argparse.Options{Help: "Softmax temperature of the ncm classifier", Default: def.Session.Classifier.Temperature})

	kind := parser.Selector("b", "backbone",
		[]string{string(backbone.KindONNX), string(backbone.KindProcess), string(backbone.KindColor), string(backbone.KindMock)},
		&argparse.Options{Help: "Feature backbone", Default: string(def.Backbone.Kind)})
	onnx := parser.String("", "onnx", &argparse.Options{Help: "Path of the ONNX backbone", Default: def.Backbone.ModelPath})
	command := parser.String("", "backbone-command", &argparse.Options{Help: "Runtime started by the process backbone"})
	inputSize := parser.Int("", "input-size", &argparse.Options{Help: "Square input resolution of the backbone", Default: def.Backbone.InputWidth})

	camera := parser.String("c", "camera", &argparse.Options{Help: "Camera index or video file", Default: def.Camera.Spec})
	width := parser.Int("", "width", &argparse.Options{Help: "Requested capture width", Default: def.Camera.Width})
	height := parser.Int("", "height", &argparse.Options{Help: "Requested capture height", Default: def.Camera.Height})

	noDisplay := parser.Flag("", "no-display", &argparse.Options{Help: "Do not open a window", Default: false})
	scale := parser.Float("", "scale", &argparse.Options{Help: "Resize factor of the displayed frames", Default: def.Display.Scale})
	saveVideo := parser.String("", "save-video", &argparse.Options{Help: "Record the annotated frames to this file"})
	videoFormat := parser.String("", "video-format", &argparse.Options{Help: "FourCC of the recorded video", Default: def.Display.VideoCodec})
	maxFrames := parser.Int("n", "max-frames", &argparse.Options{Help: "Stop after this many frames (0 = unbounded)", Default: 0})

	httpAddr := parser.String("", "http", &argparse.Options{Help: "API listen address (empty disables)", Default: def.HTTPAddr})
	static := parser.String("", "static", &argparse.Options{Help: "Directory of static files served by the API"})
	tray := parser.Flag("", "tray", &argparse.Options{Help: "Show a system tray menu (requires --no-display)", Default: false})
	journalPath := parser.String("j", "journal", &argparse.Options{Help: "Record runs in this sqlite file"})
	pluginDir := parser.String("", "plugins", &argparse.Options{Help: "Directory of prediction plugins"})
	pluginTimeout := parser.Int("", "plugin-timeout", &argparse.Options{Help: "Plugin timeout in milliseconds", Default: int(def.PluginTimeout / time.Millisecond)})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log per-stage timings", Default: false})

	if err := parser.Parse(args); err != nil {
		return Config{}, parser.Usage(err), err
	}

	c := def
	c.Session.MaxClasses = *classes
	c.Session.InitFrames = *initFrames
	c.Session.ShotsPerClass = *shots
	c.Session.Alpha = *alpha
	c.Session.Classifier.Strategy = classify.Strategy(*classifier)
	c.Session.Classifier.Neighbors = *neighbors
	c.Session.Classifier.Metric = classify.Metric(*metric)
	c.Session.Classifier.Temperature = *temperature

	c.Backbone.Kind = backbone.Kind(*kind)
	c.Backbone.ModelPath = *onnx
	c.Backbone.Command = *command
	c.Backbone.InputWidth = *inputSize
	c.Backbone.InputHeight = *inputSize

	c.Camera.Spec = *camera
	c.Camera.Width = *width
	c.Camera.Height = *height

	c.Display.Window = !*noDisplay
	c.Display.Scale = *scale
	c.Display.VideoPath = *saveVideo
	c.Display.VideoCodec = *videoFormat
	c.Display.MaxClasses = *classes

	c.MaxFrames = *maxFrames
	c.HTTPAddr = *httpAddr
	c.StaticDir = *static
	c.Tray = *tray
	c.JournalPath = *journalPath
	c.PluginDir = *pluginDir
	c.PluginTimeout = time.Duration(*pluginTimeout) * time.Millisecond
	c.Verbose = *verbose

	if err := c.Validate(); err != nil {
		return Config{}, parser.Usage(err), err
	}
	return c, "", nil
}

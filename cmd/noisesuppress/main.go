package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression"
	_ "github.com/xaionaro-go/denoisewav/pkg/noisesuppression/implementations/passthrough"
	_ "github.com/xaionaro-go/denoisewav/pkg/noisesuppression/implementations/rnnoise"
	"github.com/xaionaro-go/denoisewav/pkg/noisesuppression/registry"
	"github.com/xaionaro-go/denoisewav/pkg/streamdriver"
	"github.com/xaionaro-go/denoisewav/pkg/wav"
	"github.com/xaionaro-go/observability"
)

func main() {
	defaults := streamdriver.DefaultConfig()

	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	inputPath := pflag.StringP("input", "i", "", "the WAV file to denoise")
	outputPath := pflag.StringP("output", "o", "", "the WAV file to write the result to (32-bit float)")
	modelPath := pflag.StringP("model", "m", "", "the model file of the noise suppression engine")
	engine := pflag.String("engine", defaults.Engine, fmt.Sprintf("the noise suppression engine, one of %v; empty means the best available", registry.Names()))
	configPath := pflag.String("config", "", "a YAML config file; explicitly set flags override it")
	chunkDuration := pflag.Duration("chunk-duration", defaults.ChunkDuration, "the duration of the chunks the input is cut into")
	frameDuration := pflag.Duration("frame-duration", defaults.FrameDuration, "the duration of the frames passed to the engine")
	remainderPolicy := defaults.RemainderPolicy
	pflag.Var(&remainderPolicy, "remainder-policy", "what to do with the samples at the end that do not form a whole frame: discard or pad")
	voiceThreshold := pflag.Float64("voice-threshold", defaults.VoiceThreshold, "the voice probability starting from which a frame counts as talk time")
	streaming := pflag.Bool("streaming", defaults.Streaming, "process the audio through the streaming pipeline")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	if *inputPath == "" || *outputPath == "" {
		panic(fmt.Errorf("both --input and --output are required"))
	}

	cfg := defaults
	if *configPath != "" {
		var err error
		cfg, err = streamdriver.LoadConfig(*configPath)
		assertNoError(err)
	}
	flags := pflag.CommandLine
	if flags.Changed("engine") || cfg.Engine == "" {
		cfg.Engine = *engine
	}
	if flags.Changed("model") || cfg.ModelPath == "" {
		cfg.ModelPath = *modelPath
	}
	if flags.Changed("chunk-duration") {
		cfg.ChunkDuration = *chunkDuration
	}
	if flags.Changed("frame-duration") {
		cfg.FrameDuration = *frameDuration
	}
	if flags.Changed("remainder-policy") {
		cfg.RemainderPolicy = remainderPolicy
	}
	if flags.Changed("voice-threshold") {
		cfg.VoiceThreshold = *voiceThreshold
	}
	if flags.Changed("streaming") {
		cfg.Streaming = *streaming
	}
	logger.Debugf(ctx, "config: %#+v", cfg)

	startTS := time.Now()
	report, err := streamdriver.New(cfg).Run(ctx, wav.NewFile(*inputPath), wav.NewFile(*outputPath))
	assertNoError(err)

	logger.Infof(ctx, "processed %d samples in %v with %s at %d Hz (resampled: %v)", report.InputSampleCount, time.Since(startTS), report.Engine, report.ProcessingSampleRate, report.Resampled)
	logger.Infof(ctx, "chunks: %d, frames: %d, output samples: %d", report.ChunkCount, report.FramesProcessed, report.OutputSampleCount)
	if report.RemainderSampleCount > 0 {
		action := "discarded"
		if report.RemainderPolicy == noisesuppression.RemainderPolicyPad {
			action = "padded"
		}
		logger.Infof(ctx, "the last %d samples did not form a whole frame and were %s", report.RemainderSampleCount, action)
	}
	logger.Infof(ctx, "talk time: %v (%d of %d frames), max voice probability: %.3f", report.TalkTime, report.VoiceFrames, report.FramesProcessed, report.MaxVoiceProbability)
	if report.VoiceFrames > 0 {
		logger.Infof(ctx, "the first voice is at %v", report.FirstVoiceAt)
	}
	logger.Infof(ctx, "noise: none %v, low %v, medium %v, high %v", report.NoNoiseTime, report.LowNoiseTime, report.MediumNoiseTime, report.HighNoiseTime)
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}

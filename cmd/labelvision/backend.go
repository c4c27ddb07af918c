package main

import (
	"github.com/bdougie/labelvision/internal/pipeline"
	"github.com/bdougie/labelvision/internal/video"
)

// gocvBackend plugs the OpenCV reader and writer into the pipeline
type gocvBackend struct{}

func (gocvBackend) OpenSource(path string) (pipeline.VideoSource, error) {
	src, err := video.OpenSource(path)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (gocvBackend) CreateSink(path string, fps float64, width, height int) (pipeline.VideoSink, error) {
	sink, err := video.CreateSink(path, fps, width, height)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/bdougie/labelvision/internal/metrics"
	"github.com/bdougie/labelvision/internal/models"
	"github.com/google/uuid"
)

// ErrJobFailed is returned when the service reports a failed video job
var ErrJobFailed = errors.New("label detection job failed")

// API is the subset of the Rekognition client used here
type API interface {
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	StartLabelDetection(ctx context.Context, in *rekognition.StartLabelDetectionInput, optFns ...func(*rekognition.Options)) (*rekognition.StartLabelDetectionOutput, error)
	GetLabelDetection(ctx context.Context, in *rekognition.GetLabelDetectionInput, optFns ...func(*rekognition.Options)) (*rekognition.GetLabelDetectionOutput, error)
}

// Options tunes label requests
type Options struct {
	MaxLabels     int32
	MinConfidence float32 // zero leaves the service default
	Poll          PollOptions
}

// Client wraps Rekognition label detection for images and videos
type Client struct {
	api     API
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient creates a recognition client. m may be nil.
func NewClient(api API, opts Options, logger *slog.Logger, m *metrics.Metrics) *Client {
	if opts.MaxLabels <= 0 {
		opts.MaxLabels = 10
	}
	if opts.Poll.InitialInterval <= 0 {
		opts.Poll = DefaultPollOptions()
	}
	if opts.Poll.MaxInterval < opts.Poll.InitialInterval {
		opts.Poll.MaxInterval = opts.Poll.InitialInterval
	}
	return &Client{api: api, opts: opts, logger: logger, metrics: m}
}

func s3Object(bucket, key string) *types.S3Object {
	return &types.S3Object{Bucket: aws.String(bucket), Name: aws.String(key)}
}

func (c *Client) minConfidence() *float32 {
	if c.opts.MinConfidence <= 0 {
		return nil
	}
	return aws.Float32(c.opts.MinConfidence)
}

// DetectImageLabels labels a still image stored in S3. Every detection has
// timestamp 0.
func (c *Client) DetectImageLabels(ctx context.Context, bucket, key string) ([]models.LabelDetection, error) {
	out, err := c.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
		Image:         &types.Image{S3Object: s3Object(bucket, key)},
		MaxLabels:     aws.Int32(c.opts.MaxLabels),
		MinConfidence: c.minConfidence(),
	})
	if err != nil {
		return nil, fmt.Errorf("detect labels for s3://%s/%s: %w", bucket, key, err)
	}

	labels := make([]models.LabelDetection, 0, len(out.Labels))
	for i := range out.Labels {
		d, err := fromLabel(&out.Labels[i], 0)
		if err != nil {
			return nil, err
		}
		labels = append(labels, d)
	}
	return labels, nil
}

// StartVideoLabelDetection submits a video and returns the job ID. The SDK
// resends the same client token on retries, so a retried start does not
// launch a second job.
func (c *Client) StartVideoLabelDetection(ctx context.Context, bucket, key string) (string, error) {
	out, err := c.api.StartLabelDetection(ctx, &rekognition.StartLabelDetectionInput{
		Video:              &types.Video{S3Object: s3Object(bucket, key)},
		ClientRequestToken: aws.String(uuid.NewString()),
		MinConfidence:      c.minConfidence(),
	})
	if err != nil {
		return "", fmt.Errorf("start label detection for s3://%s/%s: %w", bucket, key, err)
	}
	if out.JobId == nil {
		return "", fmt.Errorf("start label detection returned no job id")
	}
	c.logger.Info("Started label detection job", "job", *out.JobId, "key", key)
	return *out.JobId, nil
}

// WaitForVideoLabels polls until the job finishes and returns every label
// detection, ordered by timestamp, across all result pages.
func (c *Client) WaitForVideoLabels(ctx context.Context, jobID string) ([]models.LabelDetection, error) {
	started := time.Now()
	var first *rekognition.GetLabelDetectionOutput

	err := poll(ctx, c.opts.Poll, func(ctx context.Context) error {
		if c.metrics != nil {
			c.metrics.PollAttempts.Inc()
		}
		out, err := c.getPage(ctx, jobID, nil)
		if err != nil {
			return err
		}
		switch out.JobStatus {
		case types.VideoJobStatusSucceeded:
			first = out
			return nil
		case types.VideoJobStatusFailed:
			return fmt.Errorf("%w: job %s: %s", ErrJobFailed, jobID, aws.ToString(out.StatusMessage))
		default:
			c.logger.Debug("Waiting for job to complete", "job", jobID, "status", out.JobStatus)
			return errKeepPolling
		}
	})
	if err != nil {
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.JobWaitSeconds.Observe(time.Since(started).Seconds())
	}
	c.logger.Info("Job completed successfully", "job", jobID, "elapsed", time.Since(started).Round(time.Second))

	labels, err := fromLabelDetections(first.Labels)
	if err != nil {
		return nil, err
	}
	next := first.NextToken
	for next != nil {
		page, err := c.getPage(ctx, jobID, next)
		if err != nil {
			return nil, err
		}
		more, err := fromLabelDetections(page.Labels)
		if err != nil {
			return nil, err
		}
		labels = append(labels, more...)
		next = page.NextToken
	}
	return labels, nil
}

// DetectVideoLabels starts a job and waits for it
func (c *Client) DetectVideoLabels(ctx context.Context, bucket, key string) (string, []models.LabelDetection, error) {
	jobID, err := c.StartVideoLabelDetection(ctx, bucket, key)
	if err != nil {
		return "", nil, err
	}
	labels, err := c.WaitForVideoLabels(ctx, jobID)
	if err != nil {
		return jobID, nil, err
	}
	return jobID, labels, nil
}

func (c *Client) getPage(ctx context.Context, jobID string, token *string) (*rekognition.GetLabelDetectionOutput, error) {
	out, err := c.api.GetLabelDetection(ctx, &rekognition.GetLabelDetectionInput{
		JobId:     aws.String(jobID),
		NextToken: token,
		SortBy:    types.LabelDetectionSortByTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("get label detection %s: %w", jobID, err)
	}
	return out, nil
}

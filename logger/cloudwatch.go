package logger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// CloudWatch defaults
const (
	DefaultAWSFlushInterval = 2 * time.Second
	DefaultAWSBatchSize     = 500

	// PutLogEvents limits: events per call, bytes per call and bytes per
	// event. Each event counts its message plus awsEventOverhead bytes.
	maxAWSBatchSize  = 10000
	maxAWSBatchBytes = 1_048_576
	maxAWSEventBytes = 262_144
	awsEventOverhead = 26

	awsPutTimeout = 10 * time.Second
)

// ErrWriterClosed is returned by writes after the backend has been closed.
var ErrWriterClosed = errors.New("logger: cloudwatch writer closed")

// AWSConfig configures the CloudWatch Logs backend
type AWSConfig struct {
	Enable        bool
	Region        string
	AccessKeyID   string
	SecretKey     string
	LogGroupName  string
	LogStreamName string

	FlushInterval time.Duration
	BatchSize     int

	// client replaces the SDK client in tests
	client cloudWatchAPI
}

func (c *AWSConfig) setDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultAWSFlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultAWSBatchSize
	}
	if c.BatchSize > maxAWSBatchSize {
		c.BatchSize = maxAWSBatchSize
	}
}

func (c *AWSConfig) validate() error {
	switch {
	case c.Region == "":
		return errors.New("AWS.Region is required when AWS logging is enabled")
	case c.LogGroupName == "":
		return errors.New("AWS.LogGroupName is required when AWS logging is enabled")
	case c.LogStreamName == "":
		return errors.New("AWS.LogStreamName is required when AWS logging is enabled")
	case c.client == nil && (c.AccessKeyID == "") != (c.SecretKey == ""):
		return errors.New("AWS.AccessKeyID and AWS.SecretKey must be set together")
	}
	return nil
}

type cloudWatchAPI interface {
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// cloudWatchWriter buffers JSON log lines and ships them to CloudWatch in
// batches from a single background goroutine.
type cloudWatchWriter struct {
	client    cloudWatchAPI
	group     string
	stream    string
	batchSize int

	mu           sync.Mutex
	pending      []types.InputLogEvent
	pendingBytes int
	closed       bool

	kick      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

func newCloudWatchWriter(ctx context.Context, cfg AWSConfig) (*cloudWatchWriter, error) {
	client := cfg.client
	if client == nil {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = cloudwatchlogs.NewFromConfig(awsCfg)
	}

	_, err := client.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(cfg.LogGroupName),
		LogStreamName: aws.String(cfg.LogStreamName),
	})
	var exists *types.ResourceAlreadyExistsException
	if err != nil && !errors.As(err, &exists) {
		return nil, fmt.Errorf("create log stream %s/%s: %w", cfg.LogGroupName, cfg.LogStreamName, err)
	}

	w := &cloudWatchWriter{
		client:    client,
		group:     cfg.LogGroupName,
		stream:    cfg.LogStreamName,
		batchSize: cfg.BatchSize,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	w.wg.Add(1)
	go w.run(cfg.FlushInterval)
	return w, nil
}

// Write queues one record. It never blocks on the network. Records larger
// than a single CloudWatch event are truncated.
func (w *cloudWatchWriter) Write(p []byte) (int, error) {
	msg := truncateEvent(strings.TrimSuffix(string(p), "\n"))

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return 0, ErrWriterClosed
	}
	w.pending = append(w.pending, types.InputLogEvent{
		Message:   aws.String(msg),
		Timestamp: aws.Int64(w.now().UnixMilli()),
	})
	w.pendingBytes += eventSize(msg)
	full := len(w.pending) >= w.batchSize || w.pendingBytes >= maxAWSBatchBytes
	w.mu.Unlock()

	if full {
		select {
		case w.kick <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

func (w *cloudWatchWriter) run(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.kick:
			w.flush()
		case <-w.done:
			w.flush()
			return
		}
	}
}

func (w *cloudWatchWriter) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = nil
	w.pendingBytes = 0
	w.mu.Unlock()

	for len(events) > 0 {
		n := w.nextBatch(events)
		ctx, cancel := context.WithTimeout(context.Background(), awsPutTimeout)
		_, err := w.client.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(w.group),
			LogStreamName: aws.String(w.stream),
			LogEvents:     events[:n],
		})
		cancel()
		if err != nil {
			// The logger cannot log its own transport failure.
			fmt.Fprintf(os.Stderr, "cloudwatch: dropped %d log events: %v\n", n, err)
		}
		events = events[n:]
	}
}

// nextBatch returns how many leading events fit in one PutLogEvents call
func (w *cloudWatchWriter) nextBatch(events []types.InputLogEvent) int {
	size := 0
	for i, ev := range events {
		size += eventSize(aws.ToString(ev.Message))
		if i == w.batchSize || (size > maxAWSBatchBytes && i > 0) {
			return i
		}
	}
	return len(events)
}

func eventSize(msg string) int {
	return len(msg) + awsEventOverhead
}

// truncateEvent cuts msg to the per-event limit on a rune boundary
func truncateEvent(msg string) string {
	limit := maxAWSEventBytes - awsEventOverhead
	if len(msg) <= limit {
		return msg
	}
	for limit > 0 && !utf8.RuneStart(msg[limit]) {
		limit--
	}
	return msg[:limit]
}

// Close flushes buffered events and stops the background goroutine. Later
// writes return ErrWriterClosed.
func (w *cloudWatchWriter) Close() error {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.done)
	})
	w.wg.Wait()
	return nil
}

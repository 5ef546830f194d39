package recorder

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "tradedeck/config"
	"tradedeck/logger"
	"tradedeck/models"
)

// tickRecord is the parquet row layout for recorded ticks.
type tickRecord struct {
	Venue     string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Bid       float64 `parquet:"name=bid, type=DOUBLE"`
	Ask       float64 `parquet:"name=ask, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)   { return mfw, nil }

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Recorder batches market ticks per venue and symbol and flushes them as
// parquet objects to S3. Feed it by wiring Add into an adapter subscription.
type Recorder struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log

	mu      sync.Mutex
	buffer  map[string][]models.MarketTick
	running bool

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	flushTicker *time.Ticker
}

func New(cfg *appconfig.Config) (*Recorder, error) {
	log := logger.GetLogger()

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	r := &Recorder{
		config:   cfg,
		s3Client: s3Client,
		log:      log,
		buffer:   make(map[string][]models.MarketTick),
	}

	log.WithComponent("recorder").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"batch_size": cfg.Recorder.BatchSize,
	}).Info("recorder initialized")

	return r, nil
}

// Add buffers one tick. When the venue/symbol buffer reaches the configured
// batch size it is flushed asynchronously.
func (r *Recorder) Add(venue string, tick models.MarketTick) {
	key := bufferKey(venue, tick.Symbol)

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.buffer[key] = append(r.buffer[key], tick)
	full := len(r.buffer[key]) >= r.config.Recorder.BatchSize
	var entries []models.MarketTick
	if full {
		entries = r.buffer[key]
		delete(r.buffer, key)
	}
	r.mu.Unlock()

	if full {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.processBatch(key, entries)
		}()
	}
}

func bufferKey(venue, symbol string) string {
	return fmt.Sprintf("%s|%s", venue, symbol)
}

func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.config.Recorder.FlushInterval)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.flushWorker()

	r.log.WithComponent("recorder").Info("recorder started")
	return nil
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.flushTicker.Stop()
	r.wg.Wait()

	// Final drain after the workers are gone.
	r.flushBuffers("shutdown")
	r.log.WithComponent("recorder").Info("recorder stopped")
}

func (r *Recorder) flushWorker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flushBuffers("interval")
		}
	}
}

func (r *Recorder) flushBuffers(reason string) {
	r.mu.Lock()
	buffers := r.buffer
	r.buffer = make(map[string][]models.MarketTick)
	r.mu.Unlock()

	if len(buffers) == 0 {
		return
	}

	r.log.WithComponent("recorder").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing tick buffers")

	for key, entries := range buffers {
		if len(entries) == 0 {
			continue
		}
		r.processBatch(key, entries)
	}
}

func (r *Recorder) processBatch(key string, entries []models.MarketTick) {
	parts := strings.SplitN(key, "|", 2)
	venue, symbol := parts[0], parts[1]

	log := r.log.WithComponent("recorder").WithFields(logger.Fields{
		"batch_id":     uuid.New().String(),
		"venue":        venue,
		"symbol":       symbol,
		"record_count": len(entries),
	})

	data, err := r.createParquetFile(venue, entries)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key = r.objectKey(venue, symbol, time.Now().UTC())
	if err := r.uploadToS3(key, data); err != nil {
		log.WithError(err).WithFields(logger.Fields{
			"bucket": r.config.Storage.S3.Bucket,
			"s3_key": key,
		}).Error("failed to upload to S3")
		return
	}

	for range entries {
		logger.IncrementTickRecorded()
	}

	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("tick batch uploaded")
}

func (r *Recorder) objectKey(venue, symbol string, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("venue=%s", venue),
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("%04d/%02d/%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("%s_ticks_%s_%s.parquet", venue, symbol, ts.Format("20060102150405")),
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func (r *Recorder) createParquetFile(venue string, entries []models.MarketTick) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(tickRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch r.config.Recorder.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, tick := range entries {
		record := tickRecord{
			Venue:     venue,
			Symbol:    tick.Symbol,
			Timestamp: tick.Timestamp,
			Price:     tick.Price,
			Bid:       tick.Bid,
			Ask:       tick.Ask,
			Volume:    tick.Volume,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (r *Recorder) uploadToS3(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       r.config.Recorder.Compression,
			"tradedeck-version": r.config.Tradedeck.Version,
		},
	}

	ctx := context.WithoutCancel(r.ctx)
	if _, err := r.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", r.config.Storage.S3.Bucket, err)
	}
	return nil
}

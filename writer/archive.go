package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/calvincs/ODL-Live/config"
	"github.com/calvincs/ODL-Live/logger"
	"github.com/calvincs/ODL-Live/models"
	"github.com/calvincs/ODL-Live/stats"
)

// DetectionRecord is the parquet row layout for archived detections.
type DetectionRecord struct {
	Source     string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Dest       string  `parquet:"name=dest, type=BYTE_ARRAY, convertedtype=UTF8"`
	XRP        float64 `parquet:"name=xrp, type=DOUBLE"`
	USD        float64 `parquet:"name=usd, type=DOUBLE"`
	DetectedAt int64   `parquet:"name=detected_at, type=INT64"`
}

// memoryFileWriter implements ParquetFile for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{
		buffer: &bytes.Buffer{},
	}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	// Write-only usage never needs to reposition.
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// s3API is the slice of the S3 client the writers need.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

func newS3Client(cfg config.S3Config) (*s3.Client, error) {
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	return s3.NewFromConfig(awsConfig), nil
}

// DetectionArchiver buffers detections and periodically flushes them to S3
// as parquet files partitioned by day. Notify only appends to the buffer;
// the flush worker owns all S3 traffic.
type DetectionArchiver struct {
	cfg      config.S3Config
	s3Client s3API
	now      func() time.Time

	mu     sync.Mutex
	buffer []DetectionRecord

	ctx         context.Context
	wg          *sync.WaitGroup
	runMu       sync.Mutex
	running     bool
	flushTicker *time.Ticker
	log         *logger.Log
}

func NewDetectionArchiver(cfg config.S3Config) (*DetectionArchiver, error) {
	log := logger.GetLogger()

	client, err := newS3Client(cfg)
	if err != nil {
		log.WithComponent("s3_writer").WithError(err).Warn("failed to configure S3 client")
		return nil, err
	}

	log.WithComponent("s3_writer").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"region": cfg.Region,
		"prefix": cfg.Prefix,
	}).Info("s3 archiver initialized")

	return &DetectionArchiver{
		cfg:      cfg,
		s3Client: client,
		now:      time.Now,
		wg:       &sync.WaitGroup{},
		log:      log,
	}, nil
}

// Notify implements the detection sink contract.
func (w *DetectionArchiver) Notify(det models.ODLDetection, source, dest string, totals stats.Totals) {
	record := DetectionRecord{
		Source:     source,
		Dest:       dest,
		XRP:        det.Quantity,
		USD:        det.USDValue,
		DetectedAt: det.DetectedAt,
	}
	w.mu.Lock()
	w.buffer = append(w.buffer, record)
	w.mu.Unlock()
}

func (w *DetectionArchiver) Start(ctx context.Context) error {
	w.runMu.Lock()
	if w.running {
		w.runMu.Unlock()
		return fmt.Errorf("s3 archiver already running")
	}
	w.running = true
	w.ctx = ctx
	w.runMu.Unlock()

	w.flushTicker = time.NewTicker(w.cfg.FlushInterval())

	w.wg.Add(1)
	go w.flushWorker()

	w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"flush_interval": w.cfg.FlushInterval().String(),
	}).Info("s3 archiver started")
	return nil
}

func (w *DetectionArchiver) Stop() {
	w.runMu.Lock()
	w.running = false
	w.runMu.Unlock()

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}
	w.wg.Wait()
	w.log.WithComponent("s3_writer").Info("s3 archiver stopped")
}

func (w *DetectionArchiver) flushWorker() {
	defer w.wg.Done()

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	for {
		select {
		case <-w.ctx.Done():
			w.flush("shutdown")
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-w.flushTicker.C:
			w.flush("interval")
		}
	}
}

func (w *DetectionArchiver) flush(reason string) {
	w.mu.Lock()
	records := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	if len(records) == 0 {
		return
	}

	log := w.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"records": len(records),
		"reason":  reason,
	})
	log.Info("flushing detections")

	data, err := w.createParquetFile(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	key := w.archiveKey(w.now().UTC())
	if err := w.uploadToS3(key, data, "application/octet-stream"); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": w.cfg.Bucket, "s3_key": key}).
			Error("failed to upload to S3")
		return
	}

	log.WithFields(logger.Fields{
		"s3_key":    key,
		"file_size": len(data),
	}).Info("detections archived")
}

func (w *DetectionArchiver) archiveKey(ts time.Time) string {
	datePath := fmt.Sprintf("year=%04d/month=%02d/day=%02d", ts.Year(), ts.Month(), ts.Day())
	filename := fmt.Sprintf("odl_%s_%s.parquet", ts.Format("20060102150405"), uuid.New().String()[:8])
	return path.Join(w.cfg.Prefix, "detections", datePath, filename)
}

func (w *DetectionArchiver) createParquetFile(records []DetectionRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := parquetwriter.NewParquetWriter(fw, new(DetectionRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch w.cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, record := range records {
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

func (w *DetectionArchiver) uploadToS3(key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	ctx := context.WithoutCancel(w.ctx)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", w.cfg.Bucket, err)
	}
	return nil
}

// SnapshotUploader backs up the serialized stats window to S3 under a fixed
// key so a restart on a fresh host can be re-seeded by hand.
type SnapshotUploader struct {
	cfg      config.S3Config
	s3Client s3API
	log      *logger.Log
}

func NewSnapshotUploader(cfg config.S3Config) (*SnapshotUploader, error) {
	client, err := newS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return &SnapshotUploader{
		cfg:      cfg,
		s3Client: client,
		log:      logger.GetLogger(),
	}, nil
}

func (u *SnapshotUploader) Upload(ctx context.Context, data []byte) error {
	key := path.Join(u.cfg.Prefix, "snapshots", "odl-stats.json")

	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if _, err := u.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload snapshot to S3 bucket %s: %w", u.cfg.Bucket, err)
	}

	u.log.WithComponent("s3_writer").WithFields(logger.Fields{
		"s3_key": key,
		"size":   len(data),
	}).Debug("stats snapshot uploaded")
	return nil
}
